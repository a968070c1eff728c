package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/I0I-I0I/messenger-server/internal/ids"
	"github.com/I0I-I0I/messenger-server/internal/identity"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Store over PostgreSQL.
//
// Ownership model:
// - The pgx pool is owned by the caller; this store must NOT close it.
//
// Concurrency model:
// - Message writes serialize per conversation on the counter row lock, which
//   makes seq allocation gap-free and strictly increasing.
// - Direct-conversation creation serializes per unordered member pair via a
//   transactional advisory lock, so at most one direct room exists per pair.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed chat store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

// GetOrCreateDirectConversation returns the direct conversation for the
// unordered pair, creating it with both member rows and the counter when absent.
func (s *PostgresStore) GetOrCreateDirectConversation(ctx context.Context, userID, otherUserID string, now time.Time) (Conversation, []string, error) {
	if s == nil || s.pool == nil {
		return Conversation{}, nil, errors.New("chat: nil store")
	}
	userID = strings.TrimSpace(userID)
	otherUserID = strings.TrimSpace(otherUserID)
	if userID == "" || otherUserID == "" {
		return Conversation{}, nil, errors.New("chat: missing user_id or other_user_id")
	}
	if userID == otherUserID {
		return Conversation{}, nil, ErrSelfConversation
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, nil, err
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}

	memberIDs := []string{userID, otherUserID}
	sort.Strings(memberIDs)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Conversation{}, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize concurrent creations for the same pair.
	pairKey := memberIDs[0] + ":" + memberIDs[1]
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, pairKey); err != nil {
		return Conversation{}, nil, err
	}

	var conv Conversation
	err = tx.QueryRow(ctx,
		`SELECT c.id, c.type, c.created_at, c.updated_at, c.last_message_preview, c.last_message_at
		   FROM conversations c
		  WHERE c.type = $1
		    AND c.id IN (
		        SELECT conversation_id
		          FROM conversation_members
		         WHERE user_id = ANY($2)
		         GROUP BY conversation_id
		        HAVING count(*) = 2 AND count(DISTINCT user_id) = 2
		    )`,
		ConversationTypeDirect, memberIDs,
	).Scan(&conv.ID, &conv.Type, &conv.CreatedAt, &conv.UpdatedAt, &conv.LastMessagePreview, &conv.LastMessageAt)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return Conversation{}, nil, err
		}
		return conv, memberIDs, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, nil, err
	}

	conv = Conversation{
		ID:        ids.MustULID(now),
		Type:      ConversationTypeDirect,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO conversations (id, type, created_at, updated_at) VALUES ($1, $2, $3, $3)`,
		conv.ID, conv.Type, now,
	); err != nil {
		return Conversation{}, nil, err
	}
	for _, memberID := range memberIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversation_members (conversation_id, user_id, joined_at) VALUES ($1, $2, $3)`,
			conv.ID, memberID, now,
		); err != nil {
			return Conversation{}, nil, err
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO conversation_counters (conversation_id, next_seq) VALUES ($1, 1)`,
		conv.ID,
	); err != nil {
		return Conversation{}, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Conversation{}, nil, err
	}
	return conv, memberIDs, nil
}

// ListUserConversations returns the requester's conversations with member ids
// attached, newest activity first. Members hydration is left to the caller.
func (s *PostgresStore) ListUserConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.type, c.updated_at, c.last_message_preview, c.last_message_at
		   FROM conversations c
		   JOIN conversation_members m ON m.conversation_id = c.id
		  WHERE m.user_id = $1
		  ORDER BY COALESCE(c.last_message_at, c.updated_at) DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]ConversationSummary, 0, 16)
	for rows.Next() {
		var cs ConversationSummary
		if err := rows.Scan(&cs.ID, &cs.Type, &cs.UpdatedAt, &cs.LastMessagePreview, &cs.LastMessageAt); err != nil {
			return nil, err
		}
		cs.MemberIDs = []string{}
		cs.Members = []identity.User{}
		summaries = append(summaries, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return summaries, nil
	}

	convIDs := make([]string, len(summaries))
	index := make(map[string]int, len(summaries))
	for i, cs := range summaries {
		convIDs[i] = cs.ID
		index[cs.ID] = i
	}

	memberRows, err := s.pool.Query(ctx,
		`SELECT conversation_id, user_id
		   FROM conversation_members
		  WHERE conversation_id = ANY($1)
		  ORDER BY conversation_id ASC, user_id ASC`,
		convIDs,
	)
	if err != nil {
		return nil, err
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var convID, memberID string
		if err := memberRows.Scan(&convID, &memberID); err != nil {
			return nil, err
		}
		if i, ok := index[convID]; ok {
			summaries[i].MemberIDs = append(summaries[i].MemberIDs, memberID)
		}
	}
	if err := memberRows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// RequireMembership fails with ErrConversationNotFound when no member row exists.
func (s *PostgresStore) RequireMembership(ctx context.Context, userID, conversationID string) error {
	if s == nil || s.pool == nil {
		return errors.New("chat: nil store")
	}

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM conversation_members WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConversationNotFound
	}
	return err
}

// MemberConversationIDs filters candidateIDs down to actual memberships.
func (s *PostgresStore) MemberConversationIDs(ctx context.Context, userID string, candidateIDs []string) (map[string]struct{}, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if len(candidateIDs) == 0 {
		return map[string]struct{}{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id
		   FROM conversation_members
		  WHERE user_id = $1 AND conversation_id = ANY($2)`,
		userID, candidateIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{}, len(candidateIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages returns messages with seq > afterSeq, ascending, up to limit.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]Message, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, sender_id, client_message_id, seq, content, created_at
		   FROM messages
		  WHERE conversation_id = $1 AND seq > $2
		  ORDER BY seq ASC
		  LIMIT $3`,
		conversationID, afterSeq, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows, limit)
}

// ListRecentMessages returns the newest messages across conversations,
// ordered by created_at DESC.
func (s *PostgresStore) ListRecentMessages(ctx context.Context, conversationIDs []string, limit int) ([]Message, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if len(conversationIDs) == 0 {
		return []Message{}, nil
	}
	if limit <= 0 {
		limit = 200
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, sender_id, client_message_id, seq, content, created_at
		   FROM messages
		  WHERE conversation_id = ANY($1)
		  ORDER BY created_at DESC
		  LIMIT $2`,
		conversationIDs, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows, limit)
}

func scanMessages(rows pgx.Rows, capHint int) ([]Message, error) {
	msgs := make([]Message, 0, capHint)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ClientMessageID, &m.Seq, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

var _ Store = (*PostgresStore)(nil)
