// Package auth owns bearer-token authentication: short-lived HS256 access
// tokens and opaque rotating refresh tokens backed by Postgres.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenTypeAccess = "access"

// TokenManager issues and verifies signed access tokens.
type TokenManager struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
}

// NewTokenManager builds a TokenManager. Only HMAC algorithms are supported;
// the configured algorithm name must be one of HS256/HS384/HS512.
func NewTokenManager(secret string, algorithm string, ttl time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("auth: empty secret key")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: non-positive access token ttl")
	}

	var method jwt.SigningMethod
	switch algorithm {
	case "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("auth: unsupported jwt algorithm %q", algorithm)
	}

	return &TokenManager{secret: []byte(secret), method: method, ttl: ttl}, nil
}

// TTL returns the configured access-token lifetime.
func (m *TokenManager) TTL() time.Duration { return m.ttl }

// Issue creates a signed access token with subject = user id.
func (m *TokenManager) Issue(userID string, now time.Time) (token string, exp time.Time, err error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	exp = now.Add(m.ttl)

	claims := jwt.MapClaims{
		"sub":  userID,
		"type": tokenTypeAccess,
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
	}
	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses and validates an access token, returning the subject user id.
// Any failure (bad signature, expiry, wrong type, missing subject) maps to
// ErrInvalidToken so the boundary cannot leak verification detail.
func (m *TokenManager) Verify(token string) (userID string, err error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != m.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{m.method.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	if typ, _ := claims["type"].(string); typ != tokenTypeAccess {
		return "", ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}
