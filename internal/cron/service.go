package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/internal/queue"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
	"github.com/angelmondragon/cartrecovery-backend/pkg/metrics"
)

const (
	defaultInterval = 30 * time.Second
	dedupPrefix     = "recurring:"
)

// Enqueuer accepts dispatched registrations.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any, opts queue.Options) (queue.EnqueueResult, error)
}

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Store    recurringStore
	Queue    Enqueuer
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	Now      func() time.Time
}

// Service turns due recurring registrations into queue jobs on a fixed tick.
type Service struct {
	logg     *logger.Logger
	store    recurringStore
	queue    Enqueuer
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	now      func() time.Time
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("recurring store required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("queue required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:     params.Logger,
		store:    params.Store,
		queue:    params.Queue,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
		now:      now,
	}, nil
}

// Run ticks until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "recurring dispatch failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				s.logg.Error(ctx, "recurring dispatch failed", err)
			}
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		s.metrics.IncTick(metrics.TickError)
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.metrics.IncTick(metrics.TickSkipped)
		s.logg.Debug(ctx, "another scheduler holds the lock; skipping tick")
		return nil
	}
	s.metrics.IncTick(metrics.TickLeader)
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	now := s.now().UTC()
	due, err := s.store.Due(ctx, now)
	if err != nil {
		return fmt.Errorf("list due registrations: %w", err)
	}
	for _, registration := range due {
		s.dispatch(ctx, registration, now)
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, registration models.RecurringJob, now time.Time) {
	jobCtx := s.logg.WithFields(ctx, map[string]any{
		"event":        "cron.dispatch",
		"registration": registration.Name,
		"job_kind":     registration.Kind,
	})
	start := time.Now()
	err := s.enqueueAndAdvance(ctx, registration, now)
	s.metrics.ObserveDispatch(registration.Name, time.Since(start), err)
	if err != nil {
		s.logg.Error(jobCtx, "recurring dispatch failed", err)
	}
}

func (s *Service) enqueueAndAdvance(ctx context.Context, registration models.RecurringJob, now time.Time) error {
	next, err := NextRun(registration.Schedule, now)
	if err != nil {
		return err
	}
	res, err := s.queue.Enqueue(ctx, registration.Kind, registration.Payload, queue.Options{
		Priority: registration.Priority,
		DedupKey: dedupPrefix + registration.Name,
	})
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	if err := s.store.Advance(ctx, registration.Name, now, next); err != nil {
		return fmt.Errorf("advance next run: %w", err)
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"event":        "cron.dispatched",
		"registration": registration.Name,
		"job_id":       res.Job.ID.String(),
		"duplicate":    res.Duplicate,
		"next_run_at":  next,
	}), "recurring job dispatched")
	return nil
}
