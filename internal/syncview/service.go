package syncview

import (
	"context"
	"log/slog"
	"sort"

	"github.com/I0I-I0I/messenger-server/internal/chat"
	"github.com/I0I-I0I/messenger-server/internal/identity"
)

const (
	bootstrapRecentMessagesLimit = 200
	changesPerConversationLimit  = 100
)

// Service reads consistent catch-up views for one requester.
type Service struct {
	log   *slog.Logger
	chats chat.Store
	users identity.Store
}

// NewService constructs a sync Service.
func NewService(log *slog.Logger, chats chat.Store, users identity.Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{log: log, chats: chats, users: users}
}

// BootstrapResult is the full client snapshot.
type BootstrapResult struct {
	Me             identity.User              `json:"me"`
	Users          []identity.User            `json:"users"`
	Conversations  []chat.ConversationSummary `json:"conversations"`
	RecentMessages []chat.Message             `json:"recent_messages"`
}

// ChangesResult is the incremental catch-up view.
type ChangesResult struct {
	Users         []identity.User            `json:"users"`
	Conversations []chat.ConversationSummary `json:"conversations"`
	Messages      []chat.Message             `json:"messages"`
}

// Conversations lists the requester's conversations with members hydrated.
func (s *Service) Conversations(ctx context.Context, me identity.User) ([]chat.ConversationSummary, error) {
	conversations, err := s.chats.ListUserConversations(ctx, me.ID)
	if err != nil {
		return nil, err
	}
	users, err := s.hydrateUsers(ctx, me, conversations, nil)
	if err != nil {
		return nil, err
	}
	attachMembers(conversations, users)
	return conversations, nil
}

// Bootstrap returns the requester's conversations with members hydrated, the
// most recent messages across them, and every referenced user under the
// conversation-scoped visibility predicate.
func (s *Service) Bootstrap(ctx context.Context, me identity.User) (BootstrapResult, error) {
	conversations, err := s.chats.ListUserConversations(ctx, me.ID)
	if err != nil {
		return BootstrapResult{}, err
	}

	conversationIDs := make([]string, len(conversations))
	for i, c := range conversations {
		conversationIDs[i] = c.ID
	}

	recent, err := s.chats.ListRecentMessages(ctx, conversationIDs, bootstrapRecentMessagesLimit)
	if err != nil {
		return BootstrapResult{}, err
	}

	users, err := s.hydrateUsers(ctx, me, conversations, recent)
	if err != nil {
		return BootstrapResult{}, err
	}
	attachMembers(conversations, users)

	s.log.Debug("sync.bootstrap", "user_id", me.ID, "conversations", len(conversations), "recent_messages", len(recent))
	return BootstrapResult{
		Me:             me,
		Users:          users,
		Conversations:  conversations,
		RecentMessages: recent,
	}, nil
}

// Changes returns, for each membership, messages above the caller-provided
// floor (missing entries default to 0) plus updated conversation summaries and
// referenced users.
func (s *Service) Changes(ctx context.Context, me identity.User, afterSeqByConversation map[string]int64) (ChangesResult, error) {
	conversations, err := s.chats.ListUserConversations(ctx, me.ID)
	if err != nil {
		return ChangesResult{}, err
	}

	messages := make([]chat.Message, 0, 64)
	for _, conversation := range conversations {
		afterSeq := afterSeqByConversation[conversation.ID]
		batch, err := s.chats.ListMessages(ctx, conversation.ID, afterSeq, changesPerConversationLimit)
		if err != nil {
			return ChangesResult{}, err
		}
		messages = append(messages, batch...)
	}

	users, err := s.hydrateUsers(ctx, me, conversations, messages)
	if err != nil {
		return ChangesResult{}, err
	}
	attachMembers(conversations, users)

	s.log.Debug("sync.changes", "user_id", me.ID, "conversations", len(conversations), "messages", len(messages))
	return ChangesResult{
		Users:         users,
		Conversations: conversations,
		Messages:      messages,
	}, nil
}

func (s *Service) hydrateUsers(ctx context.Context, me identity.User, conversations []chat.ConversationSummary, messages []chat.Message) ([]identity.User, error) {
	referenced := make(map[string]struct{})
	for _, c := range conversations {
		for _, memberID := range c.MemberIDs {
			referenced[memberID] = struct{}{}
		}
	}
	for _, m := range messages {
		referenced[m.SenderID] = struct{}{}
	}
	referenced[me.ID] = struct{}{}

	userIDs := make([]string, 0, len(referenced))
	for id := range referenced {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	return s.users.FetchUsersByIDs(ctx, me.ID, userIDs, identity.VisibilityConversationScoped)
}

func attachMembers(conversations []chat.ConversationSummary, users []identity.User) {
	byID := make(map[string]identity.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	for i := range conversations {
		members := make([]identity.User, 0, len(conversations[i].MemberIDs))
		for _, memberID := range conversations[i].MemberIDs {
			if u, ok := byID[memberID]; ok {
				members = append(members, u)
			}
		}
		conversations[i].Members = members
	}
}
