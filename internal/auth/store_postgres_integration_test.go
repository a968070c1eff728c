package auth_test

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/I0I-I0I/messenger-server/internal/app"
	"github.com/I0I-I0I/messenger-server/internal/auth"
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

func mustInsertUser(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	id := "user-" + randomHex(6)
	if _, err := pool.Exec(context.Background(),
		`INSERT INTO users (id, username, display_name, password_hash) VALUES ($1, $2, $2, 'x')`,
		id, "u-"+randomHex(6)); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return id
}

func TestPostgres_RefreshTokenRotation(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	ctx := context.Background()

	store, err := auth.NewPostgresRefreshTokenStore(pool)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	userID := mustInsertUser(t, pool)
	now := time.Now().UTC()

	_, oldHash, err := auth.NewRefreshToken()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if _, err := store.Insert(ctx, userID, oldHash, now, now.Add(time.Hour)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, newHash, err := auth.NewRefreshToken()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	gotUserID, err := store.Rotate(ctx, now, oldHash, newHash, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if gotUserID != userID {
		t.Fatalf("user = %q, want %q", gotUserID, userID)
	}

	// The old row is revoked and linked to its replacement.
	var revoked bool
	var replacedBy *int64
	if err := pool.QueryRow(ctx,
		`SELECT revoked_at IS NOT NULL, replaced_by_token_id FROM refresh_tokens WHERE token_hash = $1`,
		oldHash,
	).Scan(&revoked, &replacedBy); err != nil {
		t.Fatalf("inspect old row: %v", err)
	}
	if !revoked || replacedBy == nil {
		t.Fatalf("old row: revoked=%v replaced_by=%v", revoked, replacedBy)
	}

	// Reusing the rotated token fails.
	_, freshHash, _ := auth.NewRefreshToken()
	if _, err := store.Rotate(ctx, now, oldHash, freshHash, now.Add(time.Hour)); !errors.Is(err, auth.ErrInvalidRefreshToken) {
		t.Fatalf("reuse err = %v, want ErrInvalidRefreshToken", err)
	}
}

func TestPostgres_RotateExpiredToken(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	ctx := context.Background()

	store, err := auth.NewPostgresRefreshTokenStore(pool)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	userID := mustInsertUser(t, pool)
	now := time.Now().UTC()

	_, hash, _ := auth.NewRefreshToken()
	if _, err := store.Insert(ctx, userID, hash, now.Add(-2*time.Hour), now.Add(-time.Hour)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, newHash, _ := auth.NewRefreshToken()
	if _, err := store.Rotate(ctx, now, hash, newHash, now.Add(time.Hour)); !errors.Is(err, auth.ErrInvalidRefreshToken) {
		t.Fatalf("expired err = %v, want ErrInvalidRefreshToken", err)
	}
}

func TestPostgres_RevokeIsIdempotent(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	ctx := context.Background()

	store, err := auth.NewPostgresRefreshTokenStore(pool)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	userID := mustInsertUser(t, pool)
	now := time.Now().UTC()

	_, hash, _ := auth.NewRefreshToken()
	if _, err := store.Insert(ctx, userID, hash, now, now.Add(time.Hour)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := store.Revoke(ctx, now, hash); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := store.Revoke(ctx, now, hash); err != nil {
		t.Fatalf("repeat revoke: %v", err)
	}
	// Unknown tokens are ignored.
	if err := store.Revoke(ctx, now, "no-such-hash"); err != nil {
		t.Fatalf("revoke unknown: %v", err)
	}
}
