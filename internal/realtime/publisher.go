package realtime

import (
	"context"
	"errors"
	"log/slog"

	"github.com/I0I-I0I/messenger-server/internal/outbox"
)

// Publisher turns outbox events into frames and fans them out to subscribers.
// It implements outbox.Publisher.
type Publisher struct {
	log     *slog.Logger
	manager *Manager
}

// NewPublisher constructs a Publisher.
func NewPublisher(log *slog.Logger, manager *Manager) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{log: log, manager: manager}
}

// Publish decodes the event envelope and enqueues the frame to every current
// subscriber of the conversation. A malformed envelope is an error so the
// dispatcher records it; delivery to zero subscribers is a success.
func (p *Publisher) Publish(_ context.Context, ev outbox.Event) error {
	env, err := outbox.DecodeEnvelope(ev.PayloadJSON)
	if err != nil {
		return err
	}
	if env.OccurredAt == "" || env.Payload == nil {
		return errors.New("realtime: event envelope is missing required fields")
	}

	frame := EventFrame(ev.EventType, ev.EventID, ev.ConversationID, env.Seq, env.OccurredAt, env.Payload)
	delivered := p.manager.Fanout(ev.ConversationID, frame)

	p.log.Debug("realtime.event.published",
		"event_id", ev.EventID,
		"event_type", ev.EventType,
		"conversation_id", ev.ConversationID,
		"delivered", delivered,
	)
	return nil
}

var _ outbox.Publisher = (*Publisher)(nil)
