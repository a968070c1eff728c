// Package outbox implements the transactional realtime outbox: events are
// appended inside the same database transaction as the business rows they
// describe, then drained by a background dispatcher. This is the sole
// mechanism by which realtime events are produced.
package outbox

import (
	"encoding/json"
	"time"
)

// Event types emitted by the message write path.
const (
	EventTypeMessageCreated      = "message.created"
	EventTypeConversationUpdated = "conversation.updated"
)

// Event is a durable record of an intent to publish.
// An event is pending iff PublishedAt is nil.
type Event struct {
	ID             int64
	EventID        string
	EventType      string
	ConversationID string
	PayloadJSON    string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	Attempts       int
	NextAttemptAt  time.Time
	LastError      *string
}

// Envelope is the decoded shape of Event.PayloadJSON.
type Envelope struct {
	Seq        int64          `json:"seq"`
	OccurredAt string         `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

// FormatTime renders a timestamp the way payloads and frames carry it:
// ISO-8601 with an explicit UTC offset and microsecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.999999-07:00")
}

// EncodeEnvelope produces the canonical payload_json for an event: object keys
// sorted, separators "," and ":", no insignificant whitespace. encoding/json
// already emits maps with sorted keys and compact separators, so canonical
// form falls out of marshalling the map representation.
func EncodeEnvelope(seq int64, occurredAt time.Time, payload map[string]any) (string, error) {
	raw, err := json.Marshal(map[string]any{
		"seq":         seq,
		"occurred_at": FormatTime(occurredAt),
		"payload":     payload,
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeEnvelope parses payload_json back into its envelope.
func DecodeEnvelope(payloadJSON string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(payloadJSON), &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
