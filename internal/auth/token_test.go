package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestManager(t *testing.T) *TokenManager {
	t.Helper()
	m, err := NewTokenManager("test-secret-key", "HS256", 15*time.Minute)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	return m
}

func TestTokenManager_IssueVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	now := time.Now().UTC()

	token, exp, err := m.Issue("user-1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("exp = %v, want after %v", exp, now)
	}

	userID, err := m.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("userID = %q, want user-1", userID)
	}
}

func TestTokenManager_RejectsExpired(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	token, _, err := m.Issue("user-1", time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := m.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenManager_RejectsWrongType(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	now := time.Now().UTC()

	// A structurally valid token whose type claim is not "access".
	claims := jwt.MapClaims{
		"sub":  "user-1",
		"type": "refresh",
		"iat":  now.Unix(),
		"exp":  now.Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-key"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := m.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenManager_RejectsWrongSecret(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	other, err := NewTokenManager("another-secret", "HS256", 15*time.Minute)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}

	token, _, err := other.Issue("user-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := m.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenManager_RejectsGarbage(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := m.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Verify(%q) err = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestNewTokenManager_UnsupportedAlgorithm(t *testing.T) {
	t.Parallel()

	if _, err := NewTokenManager("secret", "RS256", time.Minute); err == nil {
		t.Fatal("expected error for asymmetric algorithm")
	}
	if _, err := NewTokenManager("", "HS256", time.Minute); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestRefreshTokenHashing(t *testing.T) {
	t.Parallel()

	plain, hash, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	if plain == "" || hash == "" {
		t.Fatal("empty token or hash")
	}
	if HashRefreshToken(plain) != hash {
		t.Fatal("hash is not deterministic")
	}

	otherPlain, otherHash, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	if plain == otherPlain || hash == otherHash {
		t.Fatal("two tokens collided")
	}
}
