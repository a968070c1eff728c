package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/I0I-I0I/messenger-server/internal/ids"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed user store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

// CreateUser inserts a new user row. Username uniqueness is enforced by the
// database; violations map to ErrUsernameTaken.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	if s == nil || s.pool == nil {
		return User{}, errors.New("identity: nil store")
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	user := User{
		ID:          ids.MustULID(now),
		Username:    in.Username,
		DisplayName: in.DisplayName,
		CreatedAt:   now,
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, display_name, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		user.ID, user.Username, user.DisplayName, in.PasswordHash, now,
	)
	if isUniqueViolation(err) {
		return User{}, ErrUsernameTaken
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// GetUserByID fetches a user by id.
func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	if s == nil || s.pool == nil {
		return User{}, errors.New("identity: nil store")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, ErrUserNotFound
	}

	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, display_name, created_at FROM users WHERE id = $1`,
		userID,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUserAuthByUsername fetches a user plus credential hash for login.
func (s *PostgresStore) GetUserAuthByUsername(ctx context.Context, username string) (UserAuth, error) {
	if s == nil || s.pool == nil {
		return UserAuth{}, errors.New("identity: nil store")
	}

	var out UserAuth
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, display_name, created_at, password_hash
		   FROM users WHERE username = $1`,
		username,
	).Scan(&out.User.ID, &out.User.Username, &out.User.DisplayName, &out.User.CreatedAt, &out.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserAuth{}, ErrUserNotFound
	}
	if err != nil {
		return UserAuth{}, err
	}
	return out, nil
}

// SearchUsers finds users by case-insensitive substring on username or
// display name, excluding the requester.
func (s *PostgresStore) SearchUsers(ctx context.Context, requesterID, query string, limit int) ([]User, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("identity: nil store")
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}

	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := s.pool.Query(ctx,
		`SELECT id, username, display_name, created_at
		   FROM users
		  WHERE id <> $1
		    AND (lower(username) LIKE $2 OR lower(display_name) LIKE $2)
		  ORDER BY username ASC
		  LIMIT $3`,
		requesterID, pattern, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanUsers(rows)
}

// FetchUsersByIDs returns users by id, filtered by the visibility predicate.
func (s *PostgresStore) FetchUsersByIDs(ctx context.Context, requesterID string, userIDs []string, mode Visibility) ([]User, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("identity: nil store")
	}

	deduped := dedupeIDs(userIDs)
	if len(deduped) == 0 {
		return []User{}, nil
	}

	var (
		rows pgx.Rows
		err  error
	)
	switch mode {
	case VisibilityAll:
		rows, err = s.pool.Query(ctx,
			`SELECT id, username, display_name, created_at
			   FROM users
			  WHERE id = ANY($1)
			  ORDER BY username ASC, id ASC`,
			deduped,
		)
	case VisibilityConversationScoped:
		rows, err = s.pool.Query(ctx,
			`SELECT id, username, display_name, created_at
			   FROM users
			  WHERE id = ANY($2)
			    AND (id = $1 OR id IN (
			        SELECT DISTINCT m.user_id
			          FROM conversation_members m
			         WHERE m.conversation_id IN (
			             SELECT conversation_id FROM conversation_members WHERE user_id = $1
			         )
			    ))
			  ORDER BY username ASC, id ASC`,
			requesterID, deduped,
		)
	default:
		return nil, errors.New("identity: unsupported visibility mode")
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanUsers(rows)
}

func scanUsers(rows pgx.Rows) ([]User, error) {
	users := make([]User, 0, 16)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func dedupeIDs(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, id := range in {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

var _ Store = (*PostgresStore)(nil)
