package outbox_test

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/I0I-I0I/messenger-server/internal/app"
	"github.com/I0I-I0I/messenger-server/internal/outbox"
)

// Integration tests are enabled when MSG_TEST_DATABASE_URL is set.

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("MSG_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MSG_TEST_DATABASE_URL not set; skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	admin, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("open admin pool: %v", err)
	}
	t.Cleanup(admin.Close)

	schema := "msgr_test_" + randomHex(6)
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		dropCtx, dropCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dropCancel()
		_, _ = admin.Exec(dropCtx, "DROP SCHEMA "+schema+" CASCADE")
	})

	pcfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	pcfg.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		t.Fatalf("open test pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := app.ApplySchema(ctx, pool); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return pool
}

func mustInsertConversation(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	id := "conv-" + randomHex(6)
	if _, err := pool.Exec(context.Background(),
		`INSERT INTO conversations (id, type) VALUES ($1, 'direct')`, id); err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	return id
}

func appendEvent(t *testing.T, pool *pgxpool.Pool, conversationID string, seq int64) {
	t.Helper()

	ctx := context.Background()
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = outbox.AppendTx(ctx, tx, outbox.AppendInput{
		EventType:      outbox.EventTypeMessageCreated,
		ConversationID: conversationID,
		Seq:            seq,
		OccurredAt:     time.Now().UTC(),
		Payload:        map[string]any{"id": "msg-1", "content": "hello"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestPostgres_PendingAndUpdates(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	ctx := context.Background()

	convID := mustInsertConversation(t, pool)
	appendEvent(t, pool, convID, 1)
	appendEvent(t, pool, convID, 2)

	store, err := outbox.NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	now := time.Now().UTC().Add(time.Second)
	pending, err := store.PendingEvents(ctx, now, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].ID >= pending[1].ID {
		t.Fatalf("pending not ordered by id: %d, %d", pending[0].ID, pending[1].ID)
	}
	if pending[0].EventID == pending[1].EventID {
		t.Fatal("event_id must be unique")
	}

	// Mark the first published and the second failed with backoff.
	publishedAt := time.Now().UTC()
	errMsg := "simulated publish failure"
	retryAt := publishedAt.Add(30 * time.Second)
	err = store.ApplyUpdates(ctx, []outbox.EventUpdate{
		{ID: pending[0].ID, PublishedAt: &publishedAt, Attempts: 0, NextAttemptAt: pending[0].NextAttemptAt},
		{ID: pending[1].ID, Attempts: 1, NextAttemptAt: retryAt, LastError: &errMsg},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Only the failed event is pending, and only once its backoff elapses.
	pending, err = store.PendingEvents(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending before backoff = %d, want 0", len(pending))
	}

	pending, err = store.PendingEvents(ctx, retryAt.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending after backoff = %d, want 1", len(pending))
	}
	if pending[0].Attempts != 1 || pending[0].LastError == nil || *pending[0].LastError != errMsg {
		t.Fatalf("failed event = %+v", pending[0])
	}
}
