package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RefreshTokenStore persists refresh tokens. Plaintext tokens never reach the
// store; callers pass SHA-256 hex hashes.
type RefreshTokenStore interface {
	// Insert stores a fresh token row and returns its surrogate id.
	Insert(ctx context.Context, userID, tokenHash string, issuedAt, expiresAt time.Time) (int64, error)
	// Rotate atomically revokes the active row matching oldHash and inserts a
	// replacement, linking replaced_by_token_id. Returns the owning user id.
	// ErrInvalidRefreshToken when oldHash is unknown, revoked, or expired.
	Rotate(ctx context.Context, now time.Time, oldHash, newHash string, newExpiresAt time.Time) (string, error)
	// Revoke marks the row matching tokenHash revoked. Missing or
	// already-revoked tokens are ignored.
	Revoke(ctx context.Context, now time.Time, tokenHash string) error
}

// PostgresRefreshTokenStore implements RefreshTokenStore over PostgreSQL.
// The pool is owned by the caller.
type PostgresRefreshTokenStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRefreshTokenStore constructs the store.
func NewPostgresRefreshTokenStore(pool *pgxpool.Pool) (*PostgresRefreshTokenStore, error) {
	if pool == nil {
		return nil, errors.New("auth: nil pool")
	}
	return &PostgresRefreshTokenStore{pool: pool}, nil
}

func (s *PostgresRefreshTokenStore) Insert(ctx context.Context, userID, tokenHash string, issuedAt, expiresAt time.Time) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("auth: nil store")
	}

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO refresh_tokens (user_id, token_hash, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		userID, tokenHash, issuedAt, expiresAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *PostgresRefreshTokenStore) Rotate(ctx context.Context, now time.Time, oldHash, newHash string, newExpiresAt time.Time) (string, error) {
	if s == nil || s.pool == nil {
		return "", errors.New("auth: nil store")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the presented row so concurrent rotations of the same token
	// serialize; the loser sees a revoked row and fails cleanly.
	var (
		oldID  int64
		userID string
	)
	err = tx.QueryRow(ctx,
		`SELECT id, user_id
		   FROM refresh_tokens
		  WHERE token_hash = $1
		    AND revoked_at IS NULL
		    AND expires_at > $2
		  FOR UPDATE`,
		oldHash, now,
	).Scan(&oldID, &userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrInvalidRefreshToken
	}
	if err != nil {
		return "", err
	}

	var newID int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO refresh_tokens (user_id, token_hash, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		userID, newHash, now, newExpiresAt,
	).Scan(&newID); err != nil {
		return "", err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE refresh_tokens
		    SET revoked_at = $2, replaced_by_token_id = $3
		  WHERE id = $1`,
		oldID, now, newID,
	); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresRefreshTokenStore) Revoke(ctx context.Context, now time.Time, tokenHash string) error {
	if s == nil || s.pool == nil {
		return errors.New("auth: nil store")
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE refresh_tokens
		    SET revoked_at = $2
		  WHERE token_hash = $1 AND revoked_at IS NULL`,
		tokenHash, now,
	)
	return err
}

var _ RefreshTokenStore = (*PostgresRefreshTokenStore)(nil)
