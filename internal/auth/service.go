package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/I0I-I0I/messenger-server/internal/identity"
)

// TokenPair is the issued credential set returned to clients.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Service implements register/login/refresh/logout on top of the identity
// store, the refresh-token store, and the access-token manager.
type Service struct {
	log        *slog.Logger
	users      identity.Store
	refresh    RefreshTokenStore
	tokens     *TokenManager
	refreshTTL time.Duration
}

// NewService constructs an auth Service.
func NewService(log *slog.Logger, users identity.Store, refresh RefreshTokenStore, tokens *TokenManager, refreshTTL time.Duration) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		log:        log,
		users:      users,
		refresh:    refresh,
		tokens:     tokens,
		refreshTTL: refreshTTL,
	}
}

// Tokens exposes the access-token manager for boundary middleware.
func (s *Service) Tokens() *TokenManager { return s.tokens }

func (s *Service) issuePair(ctx context.Context, now time.Time, userID string) (TokenPair, error) {
	access, _, err := s.tokens.Issue(userID, now)
	if err != nil {
		return TokenPair{}, err
	}

	refreshPlain, refreshHash, err := NewRefreshToken()
	if err != nil {
		return TokenPair{}, err
	}
	if _, err := s.refresh.Insert(ctx, userID, refreshHash, now, now.Add(s.refreshTTL)); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refreshPlain,
		TokenType:    "bearer",
		ExpiresIn:    int(s.tokens.TTL().Seconds()),
	}, nil
}

// Register creates a user and issues the first token pair.
// identity.ErrUsernameTaken passes through for the boundary to map.
func (s *Service) Register(ctx context.Context, now time.Time, username, displayName, password string) (identity.User, TokenPair, error) {
	if displayName == "" {
		displayName = username
	}

	hash, err := identity.HashPassword(password)
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}

	user, err := s.users.CreateUser(ctx, identity.CreateUserInput{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: hash,
		Now:          now,
	})
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}

	pair, err := s.issuePair(ctx, now, user.ID)
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}

	s.log.Info("auth.register", "user_id", user.ID, "username", user.Username)
	return user, pair, nil
}

// Login verifies credentials and issues a token pair.
func (s *Service) Login(ctx context.Context, now time.Time, username, password string) (identity.User, TokenPair, error) {
	userAuth, err := s.users.GetUserAuthByUsername(ctx, username)
	if err != nil {
		// Same failure for unknown user and bad password.
		return identity.User{}, TokenPair{}, ErrInvalidCredentials
	}

	ok, err := identity.VerifyPassword(password, userAuth.PasswordHash)
	if err != nil || !ok {
		s.log.Info("auth.login.fail", "username", username)
		return identity.User{}, TokenPair{}, ErrInvalidCredentials
	}

	pair, err := s.issuePair(ctx, now, userAuth.User.ID)
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}

	s.log.Info("auth.login", "user_id", userAuth.User.ID)
	return userAuth.User, pair, nil
}

// Refresh rotates the presented refresh token and issues a fresh pair.
func (s *Service) Refresh(ctx context.Context, now time.Time, refreshTokenPlain string) (identity.User, TokenPair, error) {
	newPlain, newHash, err := NewRefreshToken()
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}

	userID, err := s.refresh.Rotate(ctx, now, HashRefreshToken(refreshTokenPlain), newHash, now.Add(s.refreshTTL))
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return identity.User{}, TokenPair{}, ErrInvalidRefreshToken
	}

	access, _, err := s.tokens.Issue(userID, now)
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}

	s.log.Info("auth.refresh", "user_id", userID)
	return user, TokenPair{
		AccessToken:  access,
		RefreshToken: newPlain,
		TokenType:    "bearer",
		ExpiresIn:    int(s.tokens.TTL().Seconds()),
	}, nil
}

// Logout revokes the presented refresh token. Unknown tokens are ignored so
// logout stays idempotent. Outstanding access tokens keep working until they
// expire; only the refresh chain is cut.
func (s *Service) Logout(ctx context.Context, now time.Time, refreshTokenPlain string) error {
	return s.refresh.Revoke(ctx, now, HashRefreshToken(refreshTokenPlain))
}
