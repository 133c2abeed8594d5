package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueMetrics tracks job queue throughput per job kind.
type QueueMetrics struct {
	enqueued  *prometheus.CounterVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	retried   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	depth     *prometheus.GaugeVec
}

// NewQueueMetrics registers the queue metrics on reg. A nil registerer yields
// a no-op collector.
func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	if reg == nil {
		return &QueueMetrics{}
	}
	m := &QueueMetrics{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartrecovery_queue_jobs_enqueued_total",
			Help: "Jobs accepted by the queue.",
		}, []string{"kind", "duplicate"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartrecovery_queue_jobs_completed_total",
			Help: "Jobs that finished successfully.",
		}, []string{"kind"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartrecovery_queue_jobs_failed_total",
			Help: "Jobs moved to the failed state.",
		}, []string{"kind"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartrecovery_queue_jobs_retried_total",
			Help: "Job attempts rescheduled with backoff.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cartrecovery_queue_job_duration_seconds",
			Help:    "Handler execution time per job kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cartrecovery_queue_jobs",
			Help: "Jobs per state at the last stats sample.",
		}, []string{"state"}),
	}
	reg.MustRegister(m.enqueued, m.completed, m.failed, m.retried, m.duration, m.depth)
	return m
}

func (m *QueueMetrics) IncEnqueued(kind string, duplicate bool) {
	if m == nil || m.enqueued == nil {
		return
	}
	dup := "false"
	if duplicate {
		dup = "true"
	}
	m.enqueued.WithLabelValues(normalizeLabel(kind), dup).Inc()
}

func (m *QueueMetrics) IncCompleted(kind string) {
	if m == nil || m.completed == nil {
		return
	}
	m.completed.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *QueueMetrics) IncFailed(kind string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *QueueMetrics) IncRetried(kind string) {
	if m == nil || m.retried == nil {
		return
	}
	m.retried.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *QueueMetrics) ObserveDuration(kind string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(kind)).Observe(d.Seconds())
}

// SetDepth records the number of jobs currently in state.
func (m *QueueMetrics) SetDepth(state string, count int64) {
	if m == nil || m.depth == nil {
		return
	}
	m.depth.WithLabelValues(normalizeLabel(state)).Set(float64(count))
}
