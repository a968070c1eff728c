// Package app wires the messenger runtime: config, logging, persistence, the
// realtime pipeline, and the HTTP server lifecycle.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/I0I-I0I/messenger-server/internal/auth"
	"github.com/I0I-I0I/messenger-server/internal/chat"
	"github.com/I0I-I0I/messenger-server/internal/httpapi"
	"github.com/I0I-I0I/messenger-server/internal/identity"
	"github.com/I0I-I0I/messenger-server/internal/metrics"
	"github.com/I0I-I0I/messenger-server/internal/outbox"
	"github.com/I0I-I0I/messenger-server/internal/realtime"
	"github.com/I0I-I0I/messenger-server/internal/syncview"
)

// App is the messenger runtime: it owns the pool, the HTTP handler, and the
// outbox dispatcher.
type App struct {
	cfg Config
	log Logger

	pool       *pgxpool.Pool
	handler    http.Handler
	dispatcher *outbox.Dispatcher
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("app: MSG_DATABASE_URL is required")
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := ApplySchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	refreshStore, err := auth.NewPostgresRefreshTokenStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	tokens, err := auth.NewTokenManager(
		cfg.SecretKey,
		cfg.JWTAlgorithm,
		time.Duration(cfg.AccessTokenExpireMinutes)*time.Minute,
	)
	if err != nil {
		pool.Close()
		return nil, err
	}
	authSvc := auth.NewService(log, users, refreshStore, tokens,
		time.Duration(cfg.RefreshTokenExpireDays)*24*time.Hour)

	chats, err := chat.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	syncSvc := syncview.NewService(log, chats, users)

	manager := realtime.NewManager(log, m, cfg.WSOutgoingQueueSize, cfg.WSMaxSubscriptionsPerConn)
	publisher := realtime.NewPublisher(log, manager)

	outboxStore, err := outbox.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	dispatcher := outbox.NewDispatcher(log, outboxStore, publisher, m,
		cfg.RealtimeDispatcherPollEvery, cfg.RealtimeDispatcherBatchSize)

	gateway := realtime.NewGateway(log, realtime.GatewayConfig{
		HeartbeatSec:         cfg.WSHeartbeatSec,
		IdleTimeout:          cfg.WSIdleTimeout,
		MaxCommandBytes:      cfg.WSMaxCommandBytes,
		RateLimitWindow:      cfg.WSRateLimitWindow,
		RateLimitMaxCommands: cfg.WSRateLimitMaxCommands,
		MaxIDsPerSubscribe:   cfg.WSMaxIDsPerSubscribe,
	}, tokens, users, chats, manager)

	handler := httpapi.NewHandler(log, httpapi.Config{
		MessageMaxLength:           cfg.MessageMaxLength,
		CORSOrigins:                cfg.CORSOrigins,
		AuthRateLimitWindowSeconds: cfg.AuthRateLimitWindowSeconds,
		AuthRateLimitMaxRequests:   cfg.AuthRateLimitMaxRequests,
	}, authSvc, users, chats, syncSvc, gateway, m, registry).Router()

	a := &App{
		cfg:     cfg,
		log:     log,
		pool:    pool,
		handler: handler,
	}
	if cfg.RealtimeDispatcherEnabled {
		a.dispatcher = dispatcher
	}
	return a, nil
}

// Run starts the dispatcher and the HTTP server and blocks until context
// cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	dispatcherCtx, stopDispatcher := context.WithCancel(context.Background())
	dispatcherDone := make(chan struct{})
	if a.dispatcher != nil {
		go func() {
			defer close(dispatcherDone)
			_ = a.dispatcher.Run(dispatcherCtx)
		}()
	} else {
		close(dispatcherDone)
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           httpapi.WithRequestLogging(a.handler, a.log),
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "dispatcher_enabled", a.dispatcher != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	// Let the dispatcher finish its in-flight batch before the pool closes.
	stopDispatcher()
	select {
	case <-dispatcherDone:
	case <-time.After(10 * time.Second):
		a.log.Warn("dispatcher.stop.timeout")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}

	a.pool.Close()
	a.log.Info("server.stopped")
	return runErr
}
