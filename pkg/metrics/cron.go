package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Dispatch outcomes reported by the recurring scheduler.
const (
	OutcomeEnqueued = "enqueued"
	OutcomeFailed   = "failed"
)

// Tick results reported by the recurring scheduler.
const (
	TickLeader  = "leader"
	TickSkipped = "skipped"
	TickError   = "error"
)

// CronJobMetrics records scheduler ticks and per-registration dispatches.
type CronJobMetrics struct {
	ticks      *prometheus.CounterVec
	dispatches *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewCronJobMetrics registers the scheduler metrics on reg. A nil registerer
// yields a no-op collector.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartrecovery_cron_ticks_total",
			Help: "Scheduler ticks by whether this process held the lock.",
		}, []string{"result"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartrecovery_cron_dispatch_total",
			Help: "Recurring registrations dispatched to the queue.",
		}, []string{"registration", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cartrecovery_cron_dispatch_duration_seconds",
			Help:    "Time to enqueue a registration and advance its next run.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"registration"}),
	}
	reg.MustRegister(m.ticks, m.dispatches, m.latency)
	return m
}

// IncTick counts one scheduler tick with result TickLeader, TickSkipped or TickError.
func (m *CronJobMetrics) IncTick(result string) {
	if m == nil || m.ticks == nil {
		return
	}
	m.ticks.WithLabelValues(normalizeLabel(result)).Inc()
}

// ObserveDispatch records one registration dispatch; a non-nil err marks it failed.
func (m *CronJobMetrics) ObserveDispatch(registration string, d time.Duration, err error) {
	if m == nil || m.dispatches == nil {
		return
	}
	name := normalizeLabel(registration)
	outcome := OutcomeEnqueued
	if err != nil {
		outcome = OutcomeFailed
	}
	m.dispatches.WithLabelValues(name, outcome).Inc()
	m.latency.WithLabelValues(name).Observe(d.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
