// Package identity owns user records: creation, lookup, search, and the
// visibility rules that decide which users a requester may observe.
package identity

import (
	"context"
	"time"
)

// User is the public user record. The password hash never leaves the store.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserAuth carries the credential hash alongside the user for login checks.
type UserAuth struct {
	User         User
	PasswordHash string
}

// Visibility decides which users a requester may observe.
//
//   - VisibilityConversationScoped: users sharing at least one conversation
//     with the requester, plus the requester themselves.
//   - VisibilityAll: unfiltered. No request path passes it; the realtime
//     write path reads the sender row directly instead of using this mode.
type Visibility string

const (
	VisibilityConversationScoped Visibility = "conversation_scoped"
	VisibilityAll                Visibility = "all"
)

// CreateUserInput describes a registration request.
type CreateUserInput struct {
	Username     string
	DisplayName  string
	PasswordHash string
	Now          time.Time
}

// Store persists and queries users.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	GetUserAuthByUsername(ctx context.Context, username string) (UserAuth, error)
	SearchUsers(ctx context.Context, requesterID, query string, limit int) ([]User, error)
	// FetchUsersByIDs returns the requested users filtered by the visibility
	// predicate, ordered by username then id.
	FetchUsersByIDs(ctx context.Context, requesterID string, userIDs []string, mode Visibility) ([]User, error)
}
