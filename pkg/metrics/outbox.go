package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outbox delivery outcomes.
const (
	OutboxPublished    = "published"
	OutboxRetried      = "retried"
	OutboxDeadLettered = "dead_lettered"
)

// OutboxMetrics tracks ledger event delivery to Pub/Sub.
type OutboxMetrics struct {
	events  *prometheus.CounterVec
	backlog prometheus.Gauge
}

// NewOutboxMetrics registers the relay metrics on reg.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridpay_outbox_events_total",
			Help: "Outbox events handled by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gridpay_outbox_last_batch_size",
			Help: "Rows claimed by the most recent relay batch.",
		}),
	}
	reg.MustRegister(m.events, m.backlog)
	return m
}

// Event counts one delivery attempt outcome.
func (m *OutboxMetrics) Event(eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(eventType, outcome).Inc()
}

// Batch records how many rows the last poll claimed.
func (m *OutboxMetrics) Batch(size int) {
	if m == nil || m.backlog == nil {
		return
	}
	m.backlog.Set(float64(size))
}
