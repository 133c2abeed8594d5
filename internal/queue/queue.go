package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/pkg/db"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/angelmondragon/cartrecovery-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartrecovery-backend/pkg/errors"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
	"github.com/angelmondragon/cartrecovery-backend/pkg/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 5 * time.Second
	maxBackoff         = 6 * time.Hour
	defaultFailedLimit = 50
)

// JobStore is the persistence surface of the queue.
type JobStore interface {
	Insert(ctx context.Context, job *models.QueueJob) error
	FindPendingByDedup(ctx context.Context, key string) (*models.QueueJob, error)
	Candidates(ctx context.Context, now time.Time, limit int) ([]models.QueueJob, error)
	Claim(ctx context.Context, id uuid.UUID, workerID string, now time.Time) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*models.QueueJob, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkRetry(ctx context.Context, id uuid.UUID, runAt time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id uuid.UUID, at time.Time, lastErr string) error
	RequeueStalled(ctx context.Context, cutoff, now time.Time) (int64, int64, error)
	CountByState(ctx context.Context) (map[enums.JobState]int64, error)
	ListFailed(ctx context.Context, limit int) ([]models.QueueJob, error)
	ResetFailed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Options tune a single enqueue.
type Options struct {
	Priority    int
	Delay       time.Duration
	DedupKey    string
	MaxAttempts int
	BackoffBase time.Duration
}

// EnqueueResult reports the stored job. Duplicate is set when an existing
// pending job already held the dedup key; Job is then that existing job.
type EnqueueResult struct {
	Job       *models.QueueJob
	Duplicate bool
}

// Stats counts jobs per state.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Paused    bool  `json:"paused"`
}

// HealthThresholds bound the active and failed counts.
type HealthThresholds struct {
	MaxActive int64
	MaxFailed int64
}

const (
	HealthOK         = "ok"
	HealthOverloaded = "overloaded"
	HealthDegraded   = "degraded"
)

// Health summarizes queue pressure.
type Health struct {
	Status     string `json:"status"`
	Overloaded bool   `json:"overloaded"`
	Degraded   bool   `json:"degraded"`
	Stats      Stats  `json:"stats"`
}

// Params wires a Queue.
type Params struct {
	Store       JobStore
	Pause       PauseFlag
	Logger      *logger.Logger
	Metrics     *metrics.QueueMetrics
	MaxAttempts int
	BackoffBase time.Duration
	Now         func() time.Time
}

// Queue is the durable, priority-ordered job queue.
type Queue struct {
	store       JobStore
	pause       PauseFlag
	logg        *logger.Logger
	metrics     *metrics.QueueMetrics
	maxAttempts int
	backoffBase time.Duration
	now         func() time.Time
}

// New builds a queue.
func New(params Params) (*Queue, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("job store required")
	}
	if params.Pause == nil {
		return nil, fmt.Errorf("pause flag required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	backoff := params.BackoffBase
	if backoff <= 0 {
		backoff = defaultBackoffBase
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Queue{
		store:       params.Store,
		pause:       params.Pause,
		logg:        params.Logger,
		metrics:     params.Metrics,
		maxAttempts: maxAttempts,
		backoffBase: backoff,
		now:         now,
	}, nil
}

func (q *Queue) clock() time.Time {
	return q.now().UTC()
}

// Enqueue stores a job of kind with payload marshalled to JSON. A pending job
// with the same dedup key suppresses the new one.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any, opts Options) (EnqueueResult, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return EnqueueResult{}, pkgerrors.New(pkgerrors.CodeValidation, "job kind is required")
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return EnqueueResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "job payload must be JSON encodable")
	}

	dedupKey := strings.TrimSpace(opts.DedupKey)
	if dedupKey != "" {
		if existing, err := q.store.FindPendingByDedup(ctx, dedupKey); err == nil {
			return q.duplicate(ctx, existing), nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return EnqueueResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup dedup key")
		}
	}

	now := q.clock()
	job := &models.QueueJob{
		ID:            uuid.New(),
		Kind:          kind,
		Payload:       raw,
		Priority:      opts.Priority,
		State:         enums.JobStateWaiting,
		RunAt:         now.Add(opts.Delay),
		MaxAttempts:   q.maxAttempts,
		BackoffBaseMS: q.backoffBase.Milliseconds(),
	}
	if opts.Delay > 0 {
		job.State = enums.JobStateDelayed
	}
	if opts.MaxAttempts > 0 {
		job.MaxAttempts = opts.MaxAttempts
	}
	if opts.BackoffBase > 0 {
		job.BackoffBaseMS = opts.BackoffBase.Milliseconds()
	}
	if dedupKey != "" {
		job.DedupKey = &dedupKey
	}

	if err := q.store.Insert(ctx, job); err != nil {
		if dedupKey != "" && db.IsUniqueViolation(err, "") {
			existing, findErr := q.store.FindPendingByDedup(ctx, dedupKey)
			if findErr == nil {
				return q.duplicate(ctx, existing), nil
			}
		}
		return EnqueueResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert job")
	}

	q.metrics.IncEnqueued(kind, false)
	q.logg.Info(q.logg.WithFields(q.logg.WithJob(ctx, job.ID.String(), kind), map[string]any{
		"event":    "queue.job.enqueued",
		"priority": job.Priority,
		"run_at":   job.RunAt,
	}), "job enqueued")
	return EnqueueResult{Job: job}, nil
}

func (q *Queue) duplicate(ctx context.Context, existing *models.QueueJob) EnqueueResult {
	q.metrics.IncEnqueued(existing.Kind, true)
	q.logg.Debug(q.logg.WithFields(q.logg.WithJob(ctx, existing.ID.String(), existing.Kind), map[string]any{
		"event":     "queue.job.duplicate",
		"dedup_key": derefString(existing.DedupKey),
	}), "duplicate job suppressed")
	return EnqueueResult{Job: existing, Duplicate: true}
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(v) {
			return nil, fmt.Errorf("invalid json payload")
		}
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// Claim takes the next due job for workerID. It returns nil when nothing is
// runnable or the queue is paused.
func (q *Queue) Claim(ctx context.Context, workerID string, scan int) (*models.QueueJob, error) {
	paused, err := q.pause.IsPaused(ctx)
	if err != nil {
		return nil, fmt.Errorf("read pause flag: %w", err)
	}
	if paused {
		return nil, nil
	}
	if scan <= 0 {
		scan = 10
	}
	now := q.clock()
	candidates, err := q.store.Candidates(ctx, now, scan)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	for _, candidate := range candidates {
		ok, err := q.store.Claim(ctx, candidate.ID, workerID, now)
		if err != nil {
			return nil, fmt.Errorf("claim job %s: %w", candidate.ID, err)
		}
		if !ok {
			continue
		}
		job := candidate
		job.State = enums.JobStateActive
		job.Attempts++
		job.ClaimedBy = &workerID
		job.ClaimedAt = &now
		return &job, nil
	}
	return nil, nil
}

// Complete marks a claimed job done.
func (q *Queue) Complete(ctx context.Context, job *models.QueueJob) error {
	return q.store.MarkCompleted(ctx, job.ID, q.clock())
}

// Fail records a failed attempt: non-retryable errors and exhausted jobs move
// to failed, others are delayed by base·2^(attempts-1).
func (q *Queue) Fail(ctx context.Context, job *models.QueueJob, cause error) (retried bool, err error) {
	now := q.clock()
	msg := cause.Error()
	if pkgerrors.IsRetryable(cause) && job.Attempts < job.MaxAttempts {
		runAt := now.Add(Backoff(time.Duration(job.BackoffBaseMS)*time.Millisecond, job.Attempts))
		if err := q.store.MarkRetry(ctx, job.ID, runAt, msg); err != nil {
			return false, err
		}
		return true, nil
	}
	if err := q.store.MarkFailed(ctx, job.ID, now, msg); err != nil {
		return false, err
	}
	return false, nil
}

// Backoff returns base·2^(attempt-1), capped.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if attempt < 1 {
		attempt = 1
	}
	factor := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(base) * factor)
	if delay <= 0 || delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

// RecoverStalled returns jobs stuck in active longer than visibility to the
// waiting state.
func (q *Queue) RecoverStalled(ctx context.Context, visibility time.Duration) (int64, error) {
	now := q.clock()
	requeued, failed, err := q.store.RequeueStalled(ctx, now.Add(-visibility), now)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recover stalled jobs")
	}
	if requeued > 0 || failed > 0 {
		q.logg.Warn(q.logg.WithFields(ctx, map[string]any{
			"event":    "queue.job.stalled",
			"requeued": requeued,
			"failed":   failed,
		}), "stalled jobs recovered")
	}
	return requeued, nil
}

// Stats returns per-state counts and the pause flag.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	counts, err := q.store.CountByState(ctx)
	if err != nil {
		return Stats{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count jobs")
	}
	paused, err := q.pause.IsPaused(ctx)
	if err != nil {
		return Stats{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read pause flag")
	}
	for _, state := range enums.JobStates {
		q.metrics.SetDepth(string(state), counts[state])
	}
	return Stats{
		Waiting:   counts[enums.JobStateWaiting],
		Active:    counts[enums.JobStateActive],
		Completed: counts[enums.JobStateCompleted],
		Failed:    counts[enums.JobStateFailed],
		Delayed:   counts[enums.JobStateDelayed],
		Paused:    paused,
	}, nil
}

// Failed lists retained failed jobs for inspection.
func (q *Queue) Failed(ctx context.Context, limit int) ([]models.QueueJob, error) {
	if limit <= 0 {
		limit = defaultFailedLimit
	}
	jobs, err := q.store.ListFailed(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list failed jobs")
	}
	return jobs, nil
}

// Retry re-queues a failed job with a fresh attempt budget.
func (q *Queue) Retry(ctx context.Context, id uuid.UUID) error {
	ok, err := q.store.ResetFailed(ctx, id, q.clock())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retry job")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "failed job not found")
	}
	q.logg.Info(q.logg.WithFields(ctx, map[string]any{
		"event":  "queue.job.retried_manually",
		"job_id": id.String(),
	}), "job retried")
	return nil
}

// Remove deletes a job that is not running.
func (q *Queue) Remove(ctx context.Context, id uuid.UUID) error {
	ok, err := q.store.Delete(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove job")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "job not found or running")
	}
	return nil
}

// Pause stops workers from claiming new jobs.
func (q *Queue) Pause(ctx context.Context) error {
	if err := q.pause.Pause(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "pause queue")
	}
	q.logg.Info(q.logg.WithField(ctx, "event", "queue.paused"), "queue paused")
	return nil
}

// Resume lets workers claim jobs again.
func (q *Queue) Resume(ctx context.Context) error {
	if err := q.pause.Resume(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resume queue")
	}
	q.logg.Info(q.logg.WithField(ctx, "event", "queue.resumed"), "queue resumed")
	return nil
}

// IsPaused reports the shared pause flag.
func (q *Queue) IsPaused(ctx context.Context) (bool, error) {
	return q.pause.IsPaused(ctx)
}

// Clean prunes completed jobs older than grace. Failed jobs are kept.
func (q *Queue) Clean(ctx context.Context, grace time.Duration) (int64, error) {
	if grace < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "grace period must not be negative")
	}
	removed, err := q.store.DeleteCompletedBefore(ctx, q.clock().Add(-grace))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clean completed jobs")
	}
	return removed, nil
}

// Health flags overloaded when active exceeds MaxActive and degraded when
// failed exceeds MaxFailed. Overloaded wins when both apply.
func (q *Queue) Health(ctx context.Context, thresholds HealthThresholds) (Health, error) {
	stats, err := q.Stats(ctx)
	if err != nil {
		return Health{}, err
	}
	health := Health{Status: HealthOK, Stats: stats}
	if thresholds.MaxFailed > 0 && stats.Failed > thresholds.MaxFailed {
		health.Degraded = true
		health.Status = HealthDegraded
	}
	if thresholds.MaxActive > 0 && stats.Active > thresholds.MaxActive {
		health.Overloaded = true
		health.Status = HealthOverloaded
	}
	return health, nil
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
