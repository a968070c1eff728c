package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/I0I-I0I/messenger-server/internal/metrics"
)

// ErrSubscriptionLimit is returned when a subscribe would push a connection
// past its configured subscription capacity.
var ErrSubscriptionLimit = errors.New("realtime: subscription limit exceeded")

const writerSendTimeout = 5 * time.Second

// Socket is the transport surface the manager writes to. The production
// implementation wraps a coder/websocket connection; tests substitute fakes.
type Socket interface {
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// ConnectionContext is one live session owned by the Manager.
type ConnectionContext struct {
	ConnectionID string
	UserID       string

	socket        Socket
	outgoing      chan []byte
	subscriptions map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func (c *ConnectionContext) signalClose() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed when the connection has been unregistered.
func (c *ConnectionContext) Done() <-chan struct{} { return c.done }

// Manager owns all live connections and their subscription indexes.
//
// Concurrency model: a single mutex serializes every index mutation. Lookups
// that precede socket or queue I/O snapshot what they need and release the
// lock first; the mutex is never held across I/O.
type Manager struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	queueSize               int
	maxSubscriptionsPerConn int

	mu             sync.Mutex
	connections    map[string]*ConnectionContext
	byUser         map[string]map[string]struct{}
	byConversation map[string]map[string]struct{}
}

// NewManager constructs a Manager. metrics may be nil.
func NewManager(log *slog.Logger, m *metrics.Metrics, queueSize, maxSubscriptionsPerConn int) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 200
	}
	if maxSubscriptionsPerConn <= 0 {
		maxSubscriptionsPerConn = 500
	}
	return &Manager{
		log:                     log,
		metrics:                 m,
		queueSize:               queueSize,
		maxSubscriptionsPerConn: maxSubscriptionsPerConn,
		connections:             make(map[string]*ConnectionContext),
		byUser:                  make(map[string]map[string]struct{}),
		byConversation:          make(map[string]map[string]struct{}),
	}
}

// Register assigns a fresh connection id, indexes the connection under its
// user, and launches the writer goroutine draining the outgoing queue.
func (m *Manager) Register(socket Socket, userID string) *ConnectionContext {
	ctx := &ConnectionContext{
		ConnectionID:  uuid.NewString(),
		UserID:        userID,
		socket:        socket,
		outgoing:      make(chan []byte, m.queueSize),
		subscriptions: make(map[string]struct{}),
		done:          make(chan struct{}),
	}

	m.mu.Lock()
	m.connections[ctx.ConnectionID] = ctx
	userConns, ok := m.byUser[userID]
	if !ok {
		userConns = make(map[string]struct{})
		m.byUser[userID] = userConns
	}
	userConns[ctx.ConnectionID] = struct{}{}
	m.mu.Unlock()

	go m.writerLoop(ctx)

	m.metrics.IncWSConnections()
	m.log.Info("ws.connection.register", "connection_id", ctx.ConnectionID, "user_id", userID)
	return ctx
}

// Unregister removes the connection from all indexes, clears its
// subscriptions, stops the writer, and optionally closes the socket.
// Idempotent: unknown ids are ignored.
func (m *Manager) Unregister(connectionID string, closeSocket bool, code websocket.StatusCode) {
	m.mu.Lock()
	ctx, ok := m.connections[connectionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.connections, connectionID)

	if userConns, ok := m.byUser[ctx.UserID]; ok {
		delete(userConns, connectionID)
		if len(userConns) == 0 {
			delete(m.byUser, ctx.UserID)
		}
	}
	for conversationID := range ctx.subscriptions {
		if convConns, ok := m.byConversation[conversationID]; ok {
			delete(convConns, connectionID)
			if len(convConns) == 0 {
				delete(m.byConversation, conversationID)
			}
		}
	}
	ctx.subscriptions = make(map[string]struct{})
	m.mu.Unlock()

	ctx.signalClose()

	if closeSocket {
		if code == 0 {
			code = websocket.StatusNormalClosure
		}
		_ = ctx.socket.Close(code, "")
	}

	m.metrics.DecWSConnections()
	m.log.Info("ws.connection.unregister", "connection_id", connectionID, "user_id", ctx.UserID)
}

func (m *Manager) writerLoop(ctx *ConnectionContext) {
	for {
		select {
		case <-ctx.done:
			return

		case frame := <-ctx.outgoing:
			writeCtx, cancel := context.WithTimeout(context.Background(), writerSendTimeout)
			err := ctx.socket.Write(writeCtx, frame)
			cancel()
			if err != nil {
				m.log.Info("ws.write.fail", "connection_id", ctx.ConnectionID, "err", err)
				m.Unregister(ctx.ConnectionID, false, 0)
				return
			}
		}
	}
}

// Subscribe adds deduplicated conversation ids to the connection and the
// reverse index. ErrSubscriptionLimit when the projected set exceeds capacity.
func (m *Manager) Subscribe(connectionID string, conversationIDs []string) error {
	ids := dedupe(conversationIDs)
	if len(ids) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, ok := m.connections[connectionID]
	if !ok {
		return nil
	}

	projected := len(ctx.subscriptions)
	for _, id := range ids {
		if _, already := ctx.subscriptions[id]; !already {
			projected++
		}
	}
	if projected > m.maxSubscriptionsPerConn {
		return ErrSubscriptionLimit
	}

	for _, id := range ids {
		ctx.subscriptions[id] = struct{}{}
		convConns, ok := m.byConversation[id]
		if !ok {
			convConns = make(map[string]struct{})
			m.byConversation[id] = convConns
		}
		convConns[connectionID] = struct{}{}
	}
	return nil
}

// Unsubscribe removes conversation ids; unknown ids are silently ignored.
func (m *Manager) Unsubscribe(connectionID string, conversationIDs []string) {
	ids := dedupe(conversationIDs)
	if len(ids) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, ok := m.connections[connectionID]
	if !ok {
		return
	}

	for _, id := range ids {
		delete(ctx.subscriptions, id)
		if convConns, ok := m.byConversation[id]; ok {
			delete(convConns, connectionID)
			if len(convConns) == 0 {
				delete(m.byConversation, id)
			}
		}
	}
}

// Send enqueues a frame without blocking. A full queue marks the client as
// slow: the connection is unregistered with close code 1013 and Send reports
// false.
func (m *Manager) Send(connectionID string, frame any) bool {
	raw, err := json.Marshal(frame)
	if err != nil {
		m.log.Error("ws.frame.marshal.fail", "connection_id", connectionID, "err", err)
		return false
	}
	return m.sendRaw(connectionID, raw)
}

func (m *Manager) sendRaw(connectionID string, raw []byte) bool {
	m.mu.Lock()
	ctx, ok := m.connections[connectionID]
	m.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case ctx.outgoing <- raw:
		m.metrics.IncFanoutEnqueued()
		return true
	case <-ctx.done:
		return false
	default:
		m.metrics.IncFanoutDropped()
		m.log.Warn("ws.client.slow", "connection_id", connectionID, "user_id", ctx.UserID)
		m.Unregister(connectionID, true, websocket.StatusTryAgainLater)
		return false
	}
}

// Fanout delivers one frame to every current subscriber of the conversation.
// The subscriber set is snapshotted under the lock; enqueueing happens after
// release. Returns how many connections accepted the frame.
func (m *Manager) Fanout(conversationID string, frame any) int {
	raw, err := json.Marshal(frame)
	if err != nil {
		m.log.Error("ws.frame.marshal.fail", "conversation_id", conversationID, "err", err)
		return 0
	}

	m.mu.Lock()
	snapshot := make([]string, 0, len(m.byConversation[conversationID]))
	for connectionID := range m.byConversation[conversationID] {
		snapshot = append(snapshot, connectionID)
	}
	m.mu.Unlock()

	delivered := 0
	for _, connectionID := range snapshot {
		if m.sendRaw(connectionID, raw) {
			delivered++
		}
	}
	return delivered
}

// Count returns the number of live connections.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connections)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, id := range in {
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
