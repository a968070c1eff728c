package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/I0I-I0I/messenger-server/internal/auth"
	"github.com/I0I-I0I/messenger-server/internal/chat"
	"github.com/I0I-I0I/messenger-server/internal/identity"
)

// GatewayConfig carries the websocket session policy.
type GatewayConfig struct {
	HeartbeatSec         int
	IdleTimeout          time.Duration
	MaxCommandBytes      int
	RateLimitWindow      time.Duration
	RateLimitMaxCommands int
	MaxIDsPerSubscribe   int
}

// Gateway terminates websocket sessions: it authenticates the handshake,
// registers the connection with the Manager, and drives the command loop.
type Gateway struct {
	log     *slog.Logger
	cfg     GatewayConfig
	tokens  *auth.TokenManager
	users   identity.Store
	chats   chat.Store
	manager *Manager
}

// NewGateway constructs a Gateway.
func NewGateway(log *slog.Logger, cfg GatewayConfig, tokens *auth.TokenManager, users identity.Store, chats chat.Store, manager *Manager) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{log: log, cfg: cfg, tokens: tokens, users: users, chats: chats, manager: manager}
}

// HandleWS upgrades the request and runs the session until the peer goes
// away, the idle timeout fires, or backpressure evicts the connection.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := extractAccessToken(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin policy is enforced by the CORS layer
	})
	if err != nil {
		g.log.Info("ws.accept.fail", "err", err)
		return
	}

	// The transport limit stays above the protocol limit so oversize commands
	// surface as error frames instead of killing the session.
	readLimit := int64(64 << 10)
	if l := int64(g.cfg.MaxCommandBytes) * 4; l > readLimit {
		readLimit = l
	}
	conn.SetReadLimit(readLimit)

	userID, err := g.authenticate(r.Context(), token)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	connCtx := g.manager.Register(wsSocket{conn: conn}, userID)
	defer g.manager.Unregister(connCtx.ConnectionID, true, websocket.StatusNormalClosure)

	g.manager.Send(connCtx.ConnectionID, WelcomeFrame(connCtx.ConnectionID, userID, time.Now().UTC(), g.cfg.HeartbeatSec))

	limiter := NewRateLimiter(g.cfg.RateLimitMaxCommands, g.cfg.RateLimitWindow)

	for {
		raw, err := g.readFrame(r.Context(), conn, connCtx.Done())
		if err != nil {
			return
		}

		if !limiter.Allow(time.Now()) {
			g.manager.Send(connCtx.ConnectionID, ErrorFrame(CodeRateLimited, "Command rate limit exceeded", nil))
			continue
		}

		cmd, err := ParseCommand(raw, g.cfg.MaxCommandBytes)
		if err != nil {
			var perr *ProtocolError
			if errors.As(err, &perr) {
				g.manager.Send(connCtx.ConnectionID, ErrorFrame(perr.Code, perr.Message, nil))
				continue
			}
			return
		}

		switch cmd.Op {
		case OpPing:
			g.manager.Send(connCtx.ConnectionID, PongFrame(cmd.Ts))

		case OpSubscribe:
			g.handleSubscribe(r.Context(), connCtx.ConnectionID, userID, cmd.ConversationIDs)

		case OpUnsubscribe:
			requested := dedupe(cmd.ConversationIDs)
			if len(requested) == 0 {
				g.manager.Send(connCtx.ConnectionID, ErrorFrame(CodeInvalidCommand, "conversation_ids is required", nil))
				continue
			}
			g.manager.Unsubscribe(connCtx.ConnectionID, requested)
			g.manager.Send(connCtx.ConnectionID, AckFrame(OpUnsubscribe, map[string]any{"conversation_ids": requested}))
		}
	}
}

func (g *Gateway) authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", auth.ErrInvalidToken
	}
	userID, err := g.tokens.Verify(token)
	if err != nil {
		return "", err
	}
	// Server-authoritative: the subject must still exist.
	if _, err := g.users.GetUserByID(ctx, userID); err != nil {
		return "", auth.ErrInvalidToken
	}
	return userID, nil
}

// readFrame blocks for one frame, bounded by the idle timeout. Any error
// (peer close, timeout, eviction) ends the session.
func (g *Gateway) readFrame(parent context.Context, conn *websocket.Conn, done <-chan struct{}) ([]byte, error) {
	select {
	case <-done:
		return nil, errors.New("connection evicted")
	default:
	}

	ctx := parent
	if g.cfg.IdleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, g.cfg.IdleTimeout)
		defer cancel()
	}

	_, raw, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (g *Gateway) handleSubscribe(ctx context.Context, connectionID, userID string, conversationIDs []string) {
	requested := dedupe(conversationIDs)
	if len(requested) == 0 {
		g.manager.Send(connectionID, ErrorFrame(CodeInvalidCommand, "conversation_ids is required", nil))
		return
	}
	if g.cfg.MaxIDsPerSubscribe > 0 && len(requested) > g.cfg.MaxIDsPerSubscribe {
		g.manager.Send(connectionID, ErrorFrame(CodeInvalidCommand, "Too many conversation ids", nil))
		return
	}

	memberOf, err := g.chats.MemberConversationIDs(ctx, userID, requested)
	if err != nil {
		g.log.Error("ws.subscribe.membership.fail", "connection_id", connectionID, "err", err)
		g.manager.Send(connectionID, ErrorFrame(CodeInvalidCommand, "Subscription check failed", nil))
		return
	}
	for _, id := range requested {
		if _, ok := memberOf[id]; !ok {
			g.manager.Send(connectionID, ErrorFrame(CodeForbiddenConversation, "Not a member of one or more conversations", nil))
			return
		}
	}

	if err := g.manager.Subscribe(connectionID, requested); err != nil {
		g.manager.Send(connectionID, ErrorFrame(CodeInvalidCommand, "Subscription limit exceeded", nil))
		return
	}
	g.manager.Send(connectionID, AckFrame(OpSubscribe, map[string]any{"conversation_ids": requested}))
}

func extractAccessToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return r.URL.Query().Get("access_token")
}

type wsSocket struct {
	conn *websocket.Conn
}

func (s wsSocket) Write(ctx context.Context, data []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s wsSocket) Close(code websocket.StatusCode, reason string) error {
	return s.conn.Close(code, reason)
}
