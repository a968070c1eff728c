package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/I0I-I0I/messenger-server/internal/metrics"
)

const (
	backoffBase = 500 * time.Millisecond
	backoffCap  = 30 * time.Second
	maxErrorLen = 1000
)

// Publisher delivers one event to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Dispatcher is the single long-lived worker that drains the outbox.
//
// Per-event publish failures never abort the batch: the failing event gets a
// backoff bookkeeping update and the loop moves on. Delivery is therefore
// at-least-once; subscribers deduplicate by event_id.
type Dispatcher struct {
	log       *slog.Logger
	store     Store
	publisher Publisher
	metrics   *metrics.Metrics

	pollEvery time.Duration
	batchSize int
}

// NewDispatcher constructs a Dispatcher. metrics may be nil.
func NewDispatcher(log *slog.Logger, store Store, publisher Publisher, m *metrics.Metrics, pollEvery time.Duration, batchSize int) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if pollEvery <= 0 {
		pollEvery = 250 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Dispatcher{
		log:       log,
		store:     store,
		publisher: publisher,
		metrics:   m,
		pollEvery: pollEvery,
		batchSize: batchSize,
	}
}

// Run polls until ctx is cancelled. An exhausted batch loops immediately; an
// empty one sleeps pollEvery. The in-flight batch always finishes and commits
// before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("outbox.dispatcher.start", "poll_ms", d.pollEvery.Milliseconds(), "batch_size", d.batchSize)

	for {
		if err := ctx.Err(); err != nil {
			d.log.Info("outbox.dispatcher.stop")
			return nil
		}

		processed, err := d.ProcessOnce(context.WithoutCancel(ctx))
		if err != nil {
			d.log.Error("outbox.dispatcher.batch.fail", "err", err)
		}
		if processed > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			d.log.Info("outbox.dispatcher.stop")
			return nil
		case <-time.After(d.pollEvery):
		}
	}
}

// ProcessOnce drains a single batch and returns how many events it touched.
func (d *Dispatcher) ProcessOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	events, err := d.store.PendingEvents(ctx, now, d.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	updates := make([]EventUpdate, 0, len(events))
	for _, ev := range events {
		if err := d.publisher.Publish(ctx, ev); err != nil {
			attempts := ev.Attempts + 1
			delay := backoffDelay(attempts)
			msg := truncateError(err.Error())
			updates = append(updates, EventUpdate{
				ID:            ev.ID,
				Attempts:      attempts,
				NextAttemptAt: time.Now().UTC().Add(delay),
				LastError:     &msg,
			})
			d.metrics.IncOutboxFailed()
			d.log.Warn("outbox.publish.fail",
				"event_id", ev.EventID,
				"event_type", ev.EventType,
				"conversation_id", ev.ConversationID,
				"attempts", attempts,
				"retry_in", delay,
				"err", err,
			)
			continue
		}

		publishedAt := time.Now().UTC()
		updates = append(updates, EventUpdate{
			ID:            ev.ID,
			PublishedAt:   &publishedAt,
			Attempts:      ev.Attempts,
			NextAttemptAt: ev.NextAttemptAt,
		})
		d.metrics.IncOutboxDispatched()
	}

	if err := d.store.ApplyUpdates(ctx, updates); err != nil {
		return 0, err
	}
	return len(events), nil
}

func backoffDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 7 {
		// 0.5s * 2^6 = 32s already exceeds the cap.
		return backoffCap
	}
	d := backoffBase << (attempts - 1)
	if d > backoffCap {
		return backoffCap
	}
	return d
}

func truncateError(s string) string {
	if len(s) > maxErrorLen {
		return s[:maxErrorLen]
	}
	return s
}
