// Package realtime owns live websocket sessions: the command protocol, the
// connection manager with its subscription indexes, and the fanout publisher
// that bridges outbox events onto sockets.
package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/I0I-I0I/messenger-server/internal/outbox"
)

// Command ops accepted from clients.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPing        = "ping"
)

// Error codes carried by error frames.
const (
	CodeInvalidCommand        = "INVALID_COMMAND"
	CodeRateLimited           = "RATE_LIMITED"
	CodeForbiddenConversation = "FORBIDDEN_CONVERSATION"
)

// ProtocolError is the typed parse/validation failure for client frames.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalidCommand(msg string) *ProtocolError {
	return &ProtocolError{Code: CodeInvalidCommand, Message: msg}
}

// Command is the parsed client frame.
type Command struct {
	Op              string
	ConversationIDs []string
	Ts              *int64
}

type subscribeCommand struct {
	Op              string   `json:"op"`
	ConversationIDs []string `json:"conversation_ids"`
}

type pingCommand struct {
	Op string `json:"op"`
	Ts *int64 `json:"ts"`
}

// ParseCommand decodes and validates one client frame. Frames must be UTF-8
// JSON objects no larger than maxBytes, with a known op, no extra fields, and
// no missing or negative required fields.
func ParseCommand(raw []byte, maxBytes int) (Command, error) {
	if maxBytes > 0 && len(raw) > maxBytes {
		return Command{}, invalidCommand("Frame is too large")
	}
	if !utf8.Valid(raw) {
		return Command{}, invalidCommand("Frame is not valid UTF-8")
	}

	var probe struct {
		Op *string `json:"op"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Command{}, invalidCommand("Invalid JSON payload")
	}
	if probe.Op == nil {
		return Command{}, invalidCommand("Missing op")
	}

	switch *probe.Op {
	case OpSubscribe, OpUnsubscribe:
		var cmd subscribeCommand
		if err := decodeStrict(raw, &cmd); err != nil {
			return Command{}, err
		}
		if cmd.ConversationIDs == nil {
			return Command{}, invalidCommand("conversation_ids is required")
		}
		return Command{Op: cmd.Op, ConversationIDs: cmd.ConversationIDs}, nil

	case OpPing:
		var cmd pingCommand
		if err := decodeStrict(raw, &cmd); err != nil {
			return Command{}, err
		}
		if cmd.Ts != nil && *cmd.Ts < 0 {
			return Command{}, invalidCommand("ts must be non-negative")
		}
		return Command{Op: cmd.Op, Ts: cmd.Ts}, nil

	default:
		return Command{}, invalidCommand("Unsupported command")
	}
}

func decodeStrict(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalidCommand("Invalid command payload")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return invalidCommand("Extra data after command")
	}
	return nil
}

// ---- Server frames ----

// WelcomeFrame is the first frame on every session.
func WelcomeFrame(connectionID, userID string, serverTime time.Time, heartbeatSec int) map[string]any {
	return map[string]any{
		"type":             "connection.welcome",
		"connection_id":    connectionID,
		"user_id":          userID,
		"server_time":      outbox.FormatTime(serverTime),
		"heartbeat_sec":    heartbeatSec,
		"protocol_version": 1,
	}
}

// AckFrame confirms a processed command.
func AckFrame(op string, details map[string]any) map[string]any {
	frame := map[string]any{
		"type": "ack",
		"op":   op,
		"ok":   true,
	}
	if len(details) > 0 {
		frame["details"] = details
	}
	return frame
}

// ErrorFrame reports a protocol or authorization failure without closing the
// session.
func ErrorFrame(code, message string, details map[string]any) map[string]any {
	errPayload := map[string]any{"code": code, "message": message}
	if len(details) > 0 {
		errPayload["details"] = details
	}
	return map[string]any{"type": "error", "error": errPayload}
}

// PongFrame answers a ping, echoing ts when present.
func PongFrame(ts *int64) map[string]any {
	frame := map[string]any{"type": "pong"}
	if ts != nil {
		frame["ts"] = *ts
	}
	return frame
}

// EventFrame carries one realtime event to subscribers.
func EventFrame(eventType, eventID, conversationID string, seq int64, occurredAt string, payload map[string]any) map[string]any {
	return map[string]any{
		"type":            eventType,
		"event_id":        eventID,
		"conversation_id": conversationID,
		"seq":             seq,
		"occurred_at":     occurredAt,
		"payload":         payload,
	}
}
