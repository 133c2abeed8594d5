package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/cartrecovery-backend/pkg/errors"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
	"github.com/angelmondragon/cartrecovery-backend/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkers      = 4
	defaultPollInterval = time.Second
	defaultJobTimeout   = 2 * time.Minute
	defaultVisibility   = 10 * time.Minute
	claimScan           = 10
)

// Handler executes one job kind.
type Handler interface {
	Handle(ctx context.Context, job *models.QueueJob) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *models.QueueJob) error

func (f HandlerFunc) Handle(ctx context.Context, job *models.QueueJob) error {
	return f(ctx, job)
}

// WorkerParams configure the worker pool.
type WorkerParams struct {
	Queue             *Queue
	Handlers          map[string]Handler
	Logger            *logger.Logger
	Metrics           *metrics.QueueMetrics
	ID                string
	Workers           int
	PollInterval      time.Duration
	JobTimeout        time.Duration
	VisibilityTimeout time.Duration
}

// Worker runs a pool of goroutines that claim and execute queue jobs.
type Worker struct {
	queue      *Queue
	handlers   map[string]Handler
	logg       *logger.Logger
	metrics    *metrics.QueueMetrics
	id         string
	workers    int
	poll       time.Duration
	jobTimeout time.Duration
	visibility time.Duration
}

// NewWorker builds a worker pool.
func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Queue == nil {
		return nil, fmt.Errorf("queue required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if len(params.Handlers) == 0 {
		return nil, fmt.Errorf("at least one handler required")
	}
	if params.ID == "" {
		return nil, fmt.Errorf("worker id required")
	}
	w := &Worker{
		queue:      params.Queue,
		handlers:   params.Handlers,
		logg:       params.Logger,
		metrics:    params.Metrics,
		id:         params.ID,
		workers:    params.Workers,
		poll:       params.PollInterval,
		jobTimeout: params.JobTimeout,
		visibility: params.VisibilityTimeout,
	}
	if w.workers <= 0 {
		w.workers = defaultWorkers
	}
	if w.poll <= 0 {
		w.poll = defaultPollInterval
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = defaultJobTimeout
	}
	if w.visibility <= 0 {
		w.visibility = defaultVisibility
	}
	return w, nil
}

// Run blocks until ctx is canceled or a goroutine fails fatally.
func (w *Worker) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		slot := fmt.Sprintf("%s/%d", w.id, i)
		group.Go(func() error {
			return w.loop(groupCtx, slot)
		})
	}
	group.Go(func() error {
		return w.reap(groupCtx)
	})

	w.logg.Info(w.logg.WithFields(ctx, map[string]any{
		"worker_id": w.id,
		"workers":   w.workers,
	}), "queue worker started")
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context, slot string) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		worked, err := w.ProcessNext(ctx, slot)
		if err != nil {
			w.logg.Error(w.logg.WithField(ctx, "worker_slot", slot), "queue poll failed", err)
		}
		if worked && err == nil {
			continue
		}
		if err := sleep(ctx, w.poll); err != nil {
			return nil
		}
	}
}

func (w *Worker) reap(ctx context.Context) error {
	ticker := time.NewTicker(w.visibility / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.queue.RecoverStalled(ctx, w.visibility); err != nil {
				w.logg.Error(ctx, "stalled job recovery failed", err)
			}
			if _, err := w.queue.Stats(ctx); err != nil {
				w.logg.Error(ctx, "queue stats sample failed", err)
			}
		}
	}
}

// ProcessNext claims and executes at most one job. It reports whether a job
// was claimed.
func (w *Worker) ProcessNext(ctx context.Context, slot string) (bool, error) {
	job, err := w.queue.Claim(ctx, slot, claimScan)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	return true, w.execute(ctx, job)
}

func (w *Worker) execute(ctx context.Context, job *models.QueueJob) error {
	jobCtx := w.logg.WithFields(w.logg.WithJob(ctx, job.ID.String(), job.Kind), map[string]any{
		"attempt":      job.Attempts,
		"max_attempts": job.MaxAttempts,
	})
	w.logg.Info(w.logg.WithField(jobCtx, "event", "queue.job.started"), "job started")

	start := time.Now()
	runErr := w.run(jobCtx, job)
	duration := time.Since(start)
	w.metrics.ObserveDuration(job.Kind, duration)
	jobCtx = w.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())

	if runErr == nil {
		if err := w.queue.Complete(ctx, job); err != nil {
			return fmt.Errorf("complete job %s: %w", job.ID, err)
		}
		w.metrics.IncCompleted(job.Kind)
		w.logg.Info(w.logg.WithField(jobCtx, "event", "queue.job.completed"), "job completed")
		return nil
	}

	retried, err := w.queue.Fail(ctx, job, runErr)
	if err != nil {
		return fmt.Errorf("record failure for job %s: %w", job.ID, err)
	}
	if retried {
		w.metrics.IncRetried(job.Kind)
		w.logg.Warn(w.logg.WithFields(jobCtx, map[string]any{
			"event": "queue.job.retrying",
			"error": runErr.Error(),
		}), "job failed; retry scheduled")
		return nil
	}
	w.metrics.IncFailed(job.Kind)
	fields := pkgerrors.Dump(runErr).Fields()
	fields["event"] = "queue.job.failed"
	w.logg.Error(w.logg.WithFields(jobCtx, fields), "job failed permanently", runErr)
	return nil
}

func (w *Worker) run(ctx context.Context, job *models.QueueJob) (err error) {
	handler, ok := w.handlers[job.Kind]
	if !ok {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "no handler for job kind %q", job.Kind)
	}
	runCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return handler.Handle(runCtx, job)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
