package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CronJobMetrics records ledger sweep runs by job and outcome.
type CronJobMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	skipped  prometheus.Counter
}

// NewCronJobMetrics registers the sweep metrics on reg. A nil reg yields a
// no-op collector.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridpay_cron_job_runs_total",
			Help: "Cron job runs by job and outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridpay_cron_job_duration_seconds",
			Help:    "Cron job duration in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 15, 30, 60, 120},
		}, []string{"job"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridpay_cron_cycles_skipped_total",
			Help: "Cycles skipped because another replica held the lock.",
		}),
	}
	reg.MustRegister(m.runs, m.duration, m.skipped)
	return m
}

// ObserveRun records one job execution. A non-nil err counts as a failure.
func (m *CronJobMetrics) ObserveRun(job string, took time.Duration, err error) {
	if m == nil || m.runs == nil {
		return
	}
	if job == "" {
		job = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.runs.WithLabelValues(job, outcome).Inc()
	m.duration.WithLabelValues(job).Observe(took.Seconds())
}

// CycleSkipped counts a cycle lost to the cross-replica lock.
func (m *CronJobMetrics) CycleSkipped() {
	if m == nil || m.skipped == nil {
		return
	}
	m.skipped.Inc()
}
