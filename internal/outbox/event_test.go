package outbox

import (
	"testing"
	"time"
)

func TestEncodeEnvelope_CanonicalForm(t *testing.T) {
	t.Parallel()

	occurred := time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)
	got, err := EncodeEnvelope(7, occurred, map[string]any{
		"id":      "msg-1",
		"content": "hello",
	})
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}

	// Keys sorted at every level, "," and ":" separators, no whitespace.
	want := `{"occurred_at":"2025-03-14T09:26:53.589793+00:00","payload":{"content":"hello","id":"msg-1"},"seq":7}`
	if got != want {
		t.Fatalf("payload_json = %s, want %s", got, want)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	occurred := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	raw, err := EncodeEnvelope(42, occurred, map[string]any{"id": "m"})
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}

	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Seq != 42 {
		t.Fatalf("seq = %d, want 42", env.Seq)
	}
	if env.OccurredAt != "2025-01-02T03:04:05+00:00" {
		t.Fatalf("occurred_at = %q", env.OccurredAt)
	}
	if env.Payload["id"] != "m" {
		t.Fatalf("payload = %v", env.Payload)
	}
}

func TestFormatTime_NonUTCInput(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("CEST", 2*3600)
	in := time.Date(2025, 7, 1, 14, 0, 0, 0, loc)
	if got := FormatTime(in); got != "2025-07-01T12:00:00+00:00" {
		t.Fatalf("FormatTime = %q", got)
	}
}
