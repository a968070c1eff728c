package chat

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/I0I-I0I/messenger-server/internal/ids"
	"github.com/I0I-I0I/messenger-server/internal/outbox"
)

// SendMessage runs the idempotent write protocol in a single transaction:
//
//  1. Replay lookup by (sender_id, client_message_id); a hit in the same
//     conversation returns the existing row, a hit elsewhere conflicts.
//  2. Conversation existence check (membership is the caller's concern).
//  3. Sequence allocation on the counter row; the row lock taken by the
//     UPDATE serializes concurrent writers on this conversation.
//  4. Message insert plus conversation preview/timestamps update.
//  5. Two outbox events recorded on the same transaction.
//
// A unique violation from a replay racing step 1 is recovered by re-querying
// after rollback.
func (s *PostgresStore) SendMessage(ctx context.Context, in SendMessageInput) (Message, bool, error) {
	if s == nil || s.pool == nil {
		return Message{}, false, errors.New("chat: nil store")
	}
	if in.ConversationID == "" || in.SenderID == "" || in.ClientMessageID == "" || in.Content == "" {
		return Message{}, false, errors.New("chat: invalid send input")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, false, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	msg, created, err := s.sendMessageTx(ctx, in, now)
	if err == nil {
		return msg, created, nil
	}
	if !isUniqueViolation(err) {
		return Message{}, false, err
	}

	// A concurrent replay won the race after our step-1 lookup. The transaction
	// has rolled back; the surviving row decides the outcome.
	existing, lookupErr := s.getByClientMessageID(ctx, in.SenderID, in.ClientMessageID)
	if lookupErr == nil && existing.ConversationID == in.ConversationID {
		return existing, false, nil
	}
	return Message{}, false, err
}

func (s *PostgresStore) sendMessageTx(ctx context.Context, in SendMessageInput, now time.Time) (Message, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := getByClientMessageIDTx(ctx, tx, in.SenderID, in.ClientMessageID)
	if err == nil {
		if existing.ConversationID != in.ConversationID {
			return Message{}, false, ErrClientMessageConflict
		}
		if err := tx.Commit(ctx); err != nil {
			return Message{}, false, err
		}
		return existing, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Message{}, false, err
	}

	var convExists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`,
		in.ConversationID,
	).Scan(&convExists); err != nil {
		return Message{}, false, err
	}
	if !convExists {
		return Message{}, false, ErrConversationNotFound
	}

	// Counter rows are created at conversation creation; the lazy insert covers
	// rows from before that invariant existed.
	if _, err := tx.Exec(ctx,
		`INSERT INTO conversation_counters (conversation_id, next_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (conversation_id) DO NOTHING`,
		in.ConversationID,
	); err != nil {
		return Message{}, false, err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE conversation_counters
		    SET next_seq = next_seq + 1
		  WHERE conversation_id = $1
		RETURNING (next_seq - 1)`,
		in.ConversationID,
	).Scan(&seq); err != nil {
		return Message{}, false, err
	}

	msg := Message{
		ID:              ids.MustULID(now),
		ConversationID:  in.ConversationID,
		SenderID:        in.SenderID,
		ClientMessageID: in.ClientMessageID,
		Seq:             seq,
		Content:         in.Content,
		CreatedAt:       now,
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, client_message_id, seq, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.ClientMessageID, msg.Seq, msg.Content, msg.CreatedAt,
	); err != nil {
		return Message{}, false, err
	}

	preview := truncatePreview(in.Content)
	if _, err := tx.Exec(ctx,
		`UPDATE conversations
		    SET updated_at = $2, last_message_at = $2, last_message_preview = $3
		  WHERE id = $1`,
		in.ConversationID, now, preview,
	); err != nil {
		return Message{}, false, err
	}

	if err := s.recordOutboxEvents(ctx, tx, msg, preview, now); err != nil {
		return Message{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, false, err
	}
	return msg, true, nil
}

func (s *PostgresStore) recordOutboxEvents(ctx context.Context, tx pgx.Tx, msg Message, preview string, now time.Time) error {
	// Realtime payloads hydrate the sender unconditionally; visibility rules do
	// not apply inside a conversation the recipient is already a member of.
	var senderUsername, senderDisplayName string
	var senderCreatedAt time.Time
	if err := tx.QueryRow(ctx,
		`SELECT username, display_name, created_at FROM users WHERE id = $1`,
		msg.SenderID,
	).Scan(&senderUsername, &senderDisplayName, &senderCreatedAt); err != nil {
		return err
	}

	if err := outbox.AppendTx(ctx, tx, outbox.AppendInput{
		EventType:      outbox.EventTypeMessageCreated,
		ConversationID: msg.ConversationID,
		Seq:            msg.Seq,
		OccurredAt:     msg.CreatedAt,
		Now:            now,
		Payload: map[string]any{
			"id":                msg.ID,
			"sender_id":         msg.SenderID,
			"client_message_id": msg.ClientMessageID,
			"content":           msg.Content,
			"created_at":        outbox.FormatTime(msg.CreatedAt),
			"sender": map[string]any{
				"id":           msg.SenderID,
				"username":     senderUsername,
				"display_name": senderDisplayName,
				"created_at":   outbox.FormatTime(senderCreatedAt),
			},
		},
	}); err != nil {
		return err
	}

	return outbox.AppendTx(ctx, tx, outbox.AppendInput{
		EventType:      outbox.EventTypeConversationUpdated,
		ConversationID: msg.ConversationID,
		Seq:            msg.Seq,
		OccurredAt:     now,
		Now:            now,
		Payload: map[string]any{
			"id":                   msg.ConversationID,
			"updated_at":           outbox.FormatTime(now),
			"last_message_preview": preview,
			"last_message_at":      outbox.FormatTime(now),
		},
	})
}

func (s *PostgresStore) getByClientMessageID(ctx context.Context, senderID, clientMessageID string) (Message, error) {
	var m Message
	err := s.pool.QueryRow(ctx,
		`SELECT id, conversation_id, sender_id, client_message_id, seq, content, created_at
		   FROM messages
		  WHERE sender_id = $1 AND client_message_id = $2`,
		senderID, clientMessageID,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ClientMessageID, &m.Seq, &m.Content, &m.CreatedAt)
	return m, err
}

func getByClientMessageIDTx(ctx context.Context, tx pgx.Tx, senderID, clientMessageID string) (Message, error) {
	var m Message
	err := tx.QueryRow(ctx,
		`SELECT id, conversation_id, sender_id, client_message_id, seq, content, created_at
		   FROM messages
		  WHERE sender_id = $1 AND client_message_id = $2`,
		senderID, clientMessageID,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ClientMessageID, &m.Seq, &m.Content, &m.CreatedAt)
	return m, err
}

func truncatePreview(content string) string {
	runes := []rune(content)
	if len(runes) <= PreviewMaxLength {
		return content
	}
	return string(runes[:PreviewMaxLength])
}
