package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestOutboxMetricsCountsOutcomes(t *testing.T) {
	m := NewOutboxMetrics(prometheus.NewRegistry())
	m.Batch(3)
	m.Event("payment_recorded", OutboxPublished)
	m.Event("payment_recorded", OutboxPublished)
	m.Event("payment_voided", OutboxDeadLettered)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("payment_recorded", OutboxPublished)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("payment_voided", OutboxDeadLettered)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.backlog))
}

func TestNilOutboxMetricsIsNoop(t *testing.T) {
	var m *OutboxMetrics
	assert.NotPanics(t, func() {
		m.Event("payment_recorded", OutboxRetried)
		m.Batch(1)
	})
}
