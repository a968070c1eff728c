package chat

import "errors"

var (
	// ErrConversationNotFound is returned when a conversation does not exist or
	// the requester is not a member. Membership failures deliberately look
	// identical to missing conversations so ids cannot be probed.
	ErrConversationNotFound = errors.New("chat: conversation not found")
	// ErrClientMessageConflict is returned when a (sender, client_message_id)
	// pair is replayed against a different conversation.
	ErrClientMessageConflict = errors.New("chat: client_message_id already used for a different conversation")
	// ErrSelfConversation is returned when a user opens a direct conversation
	// with themselves.
	ErrSelfConversation = errors.New("chat: cannot create direct conversation with yourself")
)
