package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
	"go.uber.org/multierr"
)

const (
	defaultRetentionDays  = 90
	defaultCompletedGrace = 24 * time.Hour
)

type recordPruner interface {
	DeleteSettledBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type cartSweeper interface {
	ExpireGuestCarts(ctx context.Context, now time.Time) (int64, error)
	ClearExpiredReservations(ctx context.Context, now time.Time) (int64, error)
}

type jobCleaner interface {
	Clean(ctx context.Context, grace time.Duration) (int64, error)
}

type CleanupJobParams struct {
	Logger         *logger.Logger
	Records        recordPruner
	Carts          cartSweeper
	Jobs           jobCleaner
	RetentionDays  int
	CompletedGrace time.Duration
	Now            func() time.Time
}

// CleanupResult counts the rows each step touched.
type CleanupResult struct {
	RecordsDeleted      int64 `json:"records_deleted"`
	CartsExpired        int64 `json:"carts_expired"`
	ReservationsCleared int64 `json:"reservations_cleared"`
	JobsPruned          int64 `json:"jobs_pruned"`
}

// CleanupJob prunes settled abandonment records, closes guest carts past
// their TTL, drops lapsed inventory holds and trims completed queue jobs.
type CleanupJob struct {
	logg      *logger.Logger
	records   recordPruner
	carts     cartSweeper
	jobs      jobCleaner
	retention int
	grace     time.Duration
	now       func() time.Time
}

func NewCleanupJob(params CleanupJobParams) (*CleanupJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Records == nil {
		return nil, fmt.Errorf("record repository required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	retention := params.RetentionDays
	if retention <= 0 {
		retention = defaultRetentionDays
	}
	grace := params.CompletedGrace
	if grace <= 0 {
		grace = defaultCompletedGrace
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &CleanupJob{
		logg:      params.Logger,
		records:   params.Records,
		carts:     params.Carts,
		jobs:      params.Jobs,
		retention: retention,
		grace:     grace,
		now:       now,
	}, nil
}

func (j *CleanupJob) Name() string { return "cleanup-old-records" }

// Run executes every step even when an earlier one fails.
func (j *CleanupJob) Run(ctx context.Context) (CleanupResult, error) {
	var (
		result CleanupResult
		errs   error
	)
	now := j.now().UTC()
	cutoff := now.Add(-time.Duration(j.retention) * 24 * time.Hour)

	deleted, err := j.records.DeleteSettledBefore(ctx, cutoff)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("prune abandonment records: %w", err))
	}
	result.RecordsDeleted = deleted

	expired, err := j.carts.ExpireGuestCarts(ctx, now)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("expire guest carts: %w", err))
	}
	result.CartsExpired = expired

	cleared, err := j.carts.ClearExpiredReservations(ctx, now)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("clear expired reservations: %w", err))
	}
	result.ReservationsCleared = cleared

	if j.jobs != nil {
		pruned, err := j.jobs.Clean(ctx, j.grace)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("clean completed jobs: %w", err))
		}
		result.JobsPruned = pruned
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":               cutoff,
		"retention_days":       j.retention,
		"records_deleted":      result.RecordsDeleted,
		"carts_expired":        result.CartsExpired,
		"reservations_cleared": result.ReservationsCleared,
		"jobs_pruned":          result.JobsPruned,
	})
	if errs != nil {
		j.logg.Error(logCtx, "maintenance cleanup finished with errors", errs)
		return result, errs
	}
	j.logg.Info(logCtx, "maintenance cleanup complete")
	return result, nil
}
