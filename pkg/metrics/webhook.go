package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes reported for processed gateway webhook events.
const (
	WebhookOutcomeApplied   = "applied"
	WebhookOutcomeDuplicate = "duplicate"
	WebhookOutcomeIgnored   = "ignored"
	WebhookOutcomeFailed    = "failed"
	WebhookOutcomeDropped   = "dropped"
)

// WebhookMetrics tracks gateway webhook processing.
type WebhookMetrics struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	queue    prometheus.Gauge
}

// NewWebhookMetrics registers the webhook metrics on reg.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridpay_webhook_events_total",
		Help: "Gateway webhook events by type and outcome.",
	}, []string{"type", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gridpay_webhook_processing_seconds",
		Help:    "Time spent applying a gateway webhook event.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
	queue := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gridpay_webhook_queue_depth",
		Help: "Events accepted but not yet processed.",
	})
	reg.MustRegister(events, duration, queue)
	return &WebhookMetrics{events: events, duration: duration, queue: queue}
}

// Observe records one processed event.
func (m *WebhookMetrics) Observe(eventType, outcome string, took time.Duration) {
	if m == nil || m.events == nil {
		return
	}
	eventType = normalizeLabel(eventType)
	m.events.WithLabelValues(eventType, normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(eventType).Observe(took.Seconds())
}

// QueueDepth publishes the current dispatcher backlog.
func (m *WebhookMetrics) QueueDepth(depth int) {
	if m == nil || m.queue == nil {
		return
	}
	m.queue.Set(float64(depth))
}
