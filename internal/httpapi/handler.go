package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/I0I-I0I/messenger-server/internal/auth"
	"github.com/I0I-I0I/messenger-server/internal/chat"
	"github.com/I0I-I0I/messenger-server/internal/identity"
	"github.com/I0I-I0I/messenger-server/internal/metrics"
	"github.com/I0I-I0I/messenger-server/internal/realtime"
	"github.com/I0I-I0I/messenger-server/internal/syncview"
)

// Config carries the boundary-level knobs.
type Config struct {
	MessageMaxLength           int
	CORSOrigins                []string
	AuthRateLimitWindowSeconds int
	AuthRateLimitMaxRequests   int
}

// Handler wires the /v1 surface to the domain services.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	auth     *auth.Service
	users    identity.Store
	chats    chat.Store
	sync     *syncview.Service
	gateway  *realtime.Gateway
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

// NewHandler constructs the boundary handler.
func NewHandler(
	log *slog.Logger,
	cfg Config,
	authSvc *auth.Service,
	users identity.Store,
	chats chat.Store,
	syncSvc *syncview.Service,
	gateway *realtime.Gateway,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MessageMaxLength <= 0 {
		cfg.MessageMaxLength = 2000
	}
	return &Handler{
		log:      log,
		cfg:      cfg,
		auth:     authSvc,
		users:    users,
		chats:    chats,
		sync:     syncSvc,
		gateway:  gateway,
		metrics:  m,
		gatherer: gatherer,
	}
}

// Router builds the full route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(h.recoverPanics)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, NewError(http.StatusNotFound, "http_error", "Not Found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, NewError(http.StatusMethodNotAllowed, "http_error", "Method Not Allowed"))
	})

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, http.StatusOK, map[string]bool{"ok": true})
	})

	if h.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httprate.Limit(
				h.cfg.AuthRateLimitMaxRequests,
				time.Duration(h.cfg.AuthRateLimitWindowSeconds)*time.Second,
				httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					writeError(w, NewError(http.StatusTooManyRequests, "rate_limited", "Too many authentication requests"))
				}),
			))
			r.Post("/auth/register", h.handleRegister)
			r.Post("/auth/login", h.handleLogin)
			r.Post("/auth/refresh", h.handleRefresh)
		})
		r.Post("/auth/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuth)

			r.Get("/users/me", h.handleMe)
			r.Get("/users/search", h.handleUserSearch)
			r.Post("/users/batch", h.handleUserBatch)

			r.Get("/conversations", h.handleListConversations)
			r.Post("/conversations/direct", h.handleDirectConversation)
			r.Get("/conversations/{conversationID}/messages", h.handleListMessages)
			r.Post("/conversations/{conversationID}/messages", h.handleSendMessage)

			r.Get("/sync/bootstrap", h.handleSyncBootstrap)
			r.Get("/sync/changes", h.handleSyncChanges)
		})

		// The gateway authenticates on its own because browsers cannot set
		// headers on websocket handshakes; the token may arrive as a query param.
		r.Get("/ws", h.gateway.HandleWS)
	})

	return r
}
