package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/I0I-I0I/messenger-server/internal/identity"
)

type contextKey int

const currentUserKey contextKey = iota

// CurrentUser returns the authenticated user placed by RequireAuth.
func CurrentUser(ctx context.Context) (identity.User, bool) {
	u, ok := ctx.Value(currentUserKey).(identity.User)
	return u, ok
}

// RequireAuth verifies the bearer token and resolves the subject to a live
// user record, rejecting with 401 invalid_token otherwise.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, NewError(http.StatusUnauthorized, "invalid_token", "Missing bearer token"))
			return
		}

		userID, err := h.auth.Tokens().Verify(token)
		if err != nil {
			writeError(w, FromDomain(err))
			return
		}

		user, err := h.users.GetUserByID(r.Context(), userID)
		if err != nil {
			writeError(w, NewError(http.StatusUnauthorized, "invalid_token", "Token user was not found"))
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), currentUserKey, user)))
	})
}

// recoverPanics converts handler panics into the internal_error envelope.
// http.ErrAbortHandler passes through so aborted streams keep stdlib behavior.
func (h *Handler) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				h.log.Error("http.panic", "method", r.Method, "path", r.URL.Path, "panic", rec)
				writeError(w, NewError(http.StatusInternalServerError, "internal_error", "Internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// WithRequestLogging logs one line per request with status and latency.
func WithRequestLogging(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach Hijacker/Flusher on the
// underlying writer; the websocket upgrade depends on it.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
