// Package metrics registers the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the process collectors. A nil *Metrics is a valid no-op
// receiver so components can run unmetered in tests.
type Metrics struct {
	wsConnections    prometheus.Gauge
	messagesCreated  prometheus.Counter
	outboxDispatched prometheus.Counter
	outboxFailed     prometheus.Counter
	fanoutEnqueued   prometheus.Counter
	fanoutDropped    prometheus.Counter
}

// New registers the messenger collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		wsConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "messenger_ws_connections",
			Help: "Number of live websocket connections.",
		}),
		messagesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "messenger_messages_created_total",
			Help: "Messages persisted (idempotent replays excluded).",
		}),
		outboxDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "messenger_outbox_dispatched_total",
			Help: "Outbox events published successfully.",
		}),
		outboxFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "messenger_outbox_failed_total",
			Help: "Outbox publish attempts that failed and were scheduled for retry.",
		}),
		fanoutEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "messenger_fanout_enqueued_total",
			Help: "Frames enqueued to websocket connection queues (fanout and direct sends).",
		}),
		fanoutDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "messenger_fanout_dropped_total",
			Help: "Frames dropped because a connection's outgoing queue overflowed.",
		}),
	}
}

func (m *Metrics) IncWSConnections() {
	if m != nil {
		m.wsConnections.Inc()
	}
}

func (m *Metrics) DecWSConnections() {
	if m != nil {
		m.wsConnections.Dec()
	}
}

func (m *Metrics) IncMessagesCreated() {
	if m != nil {
		m.messagesCreated.Inc()
	}
}

func (m *Metrics) IncOutboxDispatched() {
	if m != nil {
		m.outboxDispatched.Inc()
	}
}

func (m *Metrics) IncOutboxFailed() {
	if m != nil {
		m.outboxFailed.Inc()
	}
}

func (m *Metrics) IncFanoutEnqueued() {
	if m != nil {
		m.fanoutEnqueued.Inc()
	}
}

func (m *Metrics) IncFanoutDropped() {
	if m != nil {
		m.fanoutDropped.Inc()
	}
}
