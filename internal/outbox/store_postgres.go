package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AppendInput describes one event to record.
type AppendInput struct {
	EventType      string
	ConversationID string
	Seq            int64
	OccurredAt     time.Time
	Payload        map[string]any
	Now            time.Time
}

// AppendTx records an event on the caller's open transaction. The business
// rows and the outbox row become visible together or not at all.
func AppendTx(ctx context.Context, tx pgx.Tx, in AppendInput) error {
	payloadJSON, err := EncodeEnvelope(in.Seq, in.OccurredAt, in.Payload)
	if err != nil {
		return err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO realtime_outbox_events
		     (event_id, event_type, conversation_id, payload_json, created_at, next_attempt_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		uuid.NewString(), in.EventType, in.ConversationID, payloadJSON, now,
	)
	return err
}

// EventUpdate carries the dispatcher's verdict for one event.
type EventUpdate struct {
	ID            int64
	PublishedAt   *time.Time
	Attempts      int
	NextAttemptAt time.Time
	LastError     *string
}

// Store is the dispatcher-facing persistence surface.
type Store interface {
	// PendingEvents returns events with published_at IS NULL and
	// next_attempt_at <= now, ordered by surrogate id, up to limit.
	PendingEvents(ctx context.Context, now time.Time, limit int) ([]Event, error)
	// ApplyUpdates persists the outcomes of one dispatch batch atomically.
	ApplyUpdates(ctx context.Context, updates []EventUpdate) error
}

// PostgresStore implements Store over PostgreSQL. The pool is owned by the caller.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs the store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("outbox: nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) PendingEvents(ctx context.Context, now time.Time, limit int) ([]Event, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("outbox: nil store")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, event_id, event_type, conversation_id, payload_json,
		        created_at, published_at, attempts, next_attempt_at, last_error
		   FROM realtime_outbox_events
		  WHERE published_at IS NULL AND next_attempt_at <= $1
		  ORDER BY id ASC
		  LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var ev Event
		if err := rows.Scan(
			&ev.ID, &ev.EventID, &ev.EventType, &ev.ConversationID, &ev.PayloadJSON,
			&ev.CreatedAt, &ev.PublishedAt, &ev.Attempts, &ev.NextAttemptAt, &ev.LastError,
		); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *PostgresStore) ApplyUpdates(ctx context.Context, updates []EventUpdate) error {
	if s == nil || s.pool == nil {
		return errors.New("outbox: nil store")
	}
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, u := range updates {
		if _, err := tx.Exec(ctx,
			`UPDATE realtime_outbox_events
			    SET published_at = $2,
			        attempts = $3,
			        next_attempt_at = $4,
			        last_error = $5
			  WHERE id = $1`,
			u.ID, u.PublishedAt, u.Attempts, u.NextAttemptAt, u.LastError,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

var _ Store = (*PostgresStore)(nil)
