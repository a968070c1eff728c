package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store for dispatcher tests.
type memStore struct {
	mu     sync.Mutex
	events []Event
}

func (s *memStore) PendingEvents(_ context.Context, now time.Time, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, 0, limit)
	for _, ev := range s.events {
		if ev.PublishedAt == nil && !ev.NextAttemptAt.After(now) {
			out = append(out, ev)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) ApplyUpdates(_ context.Context, updates []EventUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range updates {
		for i := range s.events {
			if s.events[i].ID == u.ID {
				s.events[i].PublishedAt = u.PublishedAt
				s.events[i].Attempts = u.Attempts
				s.events[i].NextAttemptAt = u.NextAttemptAt
				s.events[i].LastError = u.LastError
			}
		}
	}
	return nil
}

func (s *memStore) get(id int64) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ID == id {
			return ev
		}
	}
	return Event{}
}

func (s *memStore) setNextAttempt(id int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].NextAttemptAt = at
		}
	}
}

// fakePublisher fails the first n publishes, then succeeds.
type fakePublisher struct {
	mu        sync.Mutex
	failures  int
	published []string
}

func (p *fakePublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("simulated publish failure")
	}
	p.published = append(p.published, ev.EventID)
	return nil
}

func (p *fakePublisher) publishedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.published...)
}

func testEvent(id int64) Event {
	payload, _ := EncodeEnvelope(1, time.Now().UTC(), map[string]any{"id": "msg-1", "content": "hello"})
	return Event{
		ID:             id,
		EventID:        "event-" + string(rune('a'+id)),
		EventType:      EventTypeMessageCreated,
		ConversationID: "conversation-1",
		PayloadJSON:    payload,
		CreatedAt:      time.Now().UTC(),
		NextAttemptAt:  time.Now().UTC(),
	}
}

func newTestDispatcher(store Store, pub Publisher) *Dispatcher {
	return NewDispatcher(slog.New(slog.DiscardHandler), store, pub, nil, 10*time.Millisecond, 50)
}

func TestDispatcher_MarksEventsPublished(t *testing.T) {
	t.Parallel()

	store := &memStore{events: []Event{testEvent(1)}}
	pub := &fakePublisher{}
	d := newTestDispatcher(store, pub)

	processed, err := d.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	ev := store.get(1)
	if ev.PublishedAt == nil {
		t.Fatal("published_at not set")
	}
	if ev.Attempts != 0 {
		t.Fatalf("attempts = %d, want 0", ev.Attempts)
	}
	if ev.LastError != nil {
		t.Fatalf("last_error = %v, want nil", *ev.LastError)
	}
	if got := pub.publishedIDs(); len(got) != 1 || got[0] != ev.EventID {
		t.Fatalf("published ids = %v", got)
	}
}

func TestDispatcher_RetriesAfterPublishFailure(t *testing.T) {
	t.Parallel()

	store := &memStore{events: []Event{testEvent(1)}}
	pub := &fakePublisher{failures: 1}
	d := newTestDispatcher(store, pub)

	processed, err := d.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("first ProcessOnce: %v", err)
	}
	if processed != 1 {
		t.Fatalf("first processed = %d, want 1", processed)
	}

	ev := store.get(1)
	if ev.PublishedAt != nil {
		t.Fatal("failed event must stay pending")
	}
	if ev.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", ev.Attempts)
	}
	if ev.LastError == nil || *ev.LastError != "simulated publish failure" {
		t.Fatalf("last_error = %v", ev.LastError)
	}
	if !ev.NextAttemptAt.After(time.Now().UTC()) {
		t.Fatal("next_attempt_at must be in the future after a failure")
	}

	// Not yet due: a second pass is a no-op.
	if processed, _ := d.ProcessOnce(context.Background()); processed != 0 {
		t.Fatalf("second processed = %d, want 0", processed)
	}

	// Due again: succeeds, attempts unchanged on success.
	store.setNextAttempt(1, time.Now().UTC().Add(-time.Second))
	processed, err = d.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("third ProcessOnce: %v", err)
	}
	if processed != 1 {
		t.Fatalf("third processed = %d, want 1", processed)
	}

	ev = store.get(1)
	if ev.PublishedAt == nil {
		t.Fatal("published_at not set after retry")
	}
	if ev.Attempts != 1 {
		t.Fatalf("attempts after success = %d, want 1", ev.Attempts)
	}
	if ev.LastError != nil {
		t.Fatalf("last_error after success = %v, want nil", *ev.LastError)
	}
}

func TestDispatcher_FailureNeverAbortsBatch(t *testing.T) {
	t.Parallel()

	store := &memStore{events: []Event{testEvent(1), testEvent(2)}}
	// Only the first publish in the batch fails.
	pub := &fakePublisher{failures: 1}
	d := newTestDispatcher(store, pub)

	processed, err := d.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if processed != 2 {
		t.Fatalf("processed = %d, want 2", processed)
	}
	if store.get(1).PublishedAt != nil {
		t.Fatal("first event should have failed")
	}
	if store.get(2).PublishedAt == nil {
		t.Fatal("second event should have been published despite the earlier failure")
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 1, want: 500 * time.Millisecond},
		{attempts: 2, want: time.Second},
		{attempts: 3, want: 2 * time.Second},
		{attempts: 6, want: 16 * time.Second},
		{attempts: 7, want: 30 * time.Second},
		{attempts: 12, want: 30 * time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(tc.attempts); got != tc.want {
			t.Fatalf("backoffDelay(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	d := newTestDispatcher(store, &fakePublisher{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after cancellation")
	}
}
