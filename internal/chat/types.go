// Package chat owns the messaging domain: direct conversations, membership,
// per-conversation sequence allocation, and the idempotent message write path.
package chat

import (
	"context"
	"time"

	"github.com/I0I-I0I/messenger-server/internal/identity"
)

// ConversationTypeDirect is the only conversation type: a two-party room.
const ConversationTypeDirect = "direct"

// PreviewMaxLength bounds last_message_preview, measured in code points.
const PreviewMaxLength = 280

// Conversation is the persisted conversation row.
type Conversation struct {
	ID                 string     `json:"id"`
	Type               string     `json:"type"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	LastMessagePreview *string    `json:"last_message_preview"`
	LastMessageAt      *time.Time `json:"last_message_at"`
}

// ConversationSummary is a conversation with its membership hydrated for
// client consumption.
type ConversationSummary struct {
	ID                 string          `json:"id"`
	Type               string          `json:"type"`
	UpdatedAt          time.Time       `json:"updated_at"`
	LastMessagePreview *string         `json:"last_message_preview"`
	LastMessageAt      *time.Time      `json:"last_message_at"`
	MemberIDs          []string        `json:"member_ids"`
	Members            []identity.User `json:"members"`
}

// Message is the persisted message row.
type Message struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversation_id"`
	SenderID        string    `json:"sender_id"`
	ClientMessageID string    `json:"client_message_id"`
	Seq             int64     `json:"seq"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"created_at"`
}

// SendMessageInput describes an idempotent message write.
type SendMessageInput struct {
	ConversationID  string
	SenderID        string
	ClientMessageID string
	Content         string
	Now             time.Time
}

// Store persists and queries the messaging domain.
type Store interface {
	// GetOrCreateDirectConversation returns the unique direct conversation for
	// the unordered pair (userID, otherUserID), creating it (with both member
	// rows and the sequence counter) when absent.
	GetOrCreateDirectConversation(ctx context.Context, userID, otherUserID string, now time.Time) (Conversation, []string, error)
	// ListUserConversations returns the requester's conversations ordered by
	// coalesce(last_message_at, updated_at) DESC, with member ids attached.
	ListUserConversations(ctx context.Context, userID string) ([]ConversationSummary, error)
	// RequireMembership fails with ErrConversationNotFound when no member row
	// exists for (conversationID, userID).
	RequireMembership(ctx context.Context, userID, conversationID string) error
	// MemberConversationIDs filters candidateIDs down to those the user is a
	// member of.
	MemberConversationIDs(ctx context.Context, userID string, candidateIDs []string) (map[string]struct{}, error)
	// ListMessages returns messages with seq > afterSeq, ascending, up to limit.
	ListMessages(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]Message, error)
	// ListRecentMessages returns the newest messages across the given
	// conversations ordered by created_at DESC, up to limit.
	ListRecentMessages(ctx context.Context, conversationIDs []string, limit int) ([]Message, error)
	// SendMessage runs the idempotent write protocol and reports whether a new
	// row was created.
	SendMessage(ctx context.Context, in SendMessageInput) (Message, bool, error)
}
