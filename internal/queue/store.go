package queue

import (
	"context"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/angelmondragon/cartrecovery-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var runnableStates = []enums.JobState{enums.JobStateWaiting, enums.JobStateDelayed}

// GormStore persists queue jobs in the queue_jobs table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore binds the store to db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Insert stores a new job.
func (s *GormStore) Insert(ctx context.Context, job *models.QueueJob) error {
	return s.db.WithContext(ctx).Create(job).Error
}

// FindPendingByDedup returns the waiting, delayed or active job holding key.
func (s *GormStore) FindPendingByDedup(ctx context.Context, key string) (*models.QueueJob, error) {
	var job models.QueueJob
	err := s.db.WithContext(ctx).
		Where("dedup_key = ? AND state IN ?", key, []enums.JobState{
			enums.JobStateWaiting, enums.JobStateDelayed, enums.JobStateActive,
		}).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Candidates lists runnable jobs due at now, highest priority first.
func (s *GormStore) Candidates(ctx context.Context, now time.Time, limit int) ([]models.QueueJob, error) {
	var jobs []models.QueueJob
	err := s.db.WithContext(ctx).
		Where("state IN ? AND run_at <= ?", runnableStates, now).
		Order("priority DESC").
		Order("run_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// Claim moves a runnable job to active for workerID. It reports false when
// another worker claimed it first.
func (s *GormStore) Claim(ctx context.Context, id uuid.UUID, workerID string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.QueueJob{}).
		Where("id = ? AND state IN ? AND run_at <= ?", id, runnableStates, now).
		Updates(map[string]any{
			"state":      enums.JobStateActive,
			"claimed_by": workerID,
			"claimed_at": now,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Get loads a job by id.
func (s *GormStore) Get(ctx context.Context, id uuid.UUID) (*models.QueueJob, error) {
	var job models.QueueJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// MarkCompleted records a successful run.
func (s *GormStore) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.QueueJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":        enums.JobStateCompleted,
			"completed_at": at,
			"last_error":   nil,
		}).Error
}

// MarkRetry parks a failed attempt until runAt.
func (s *GormStore) MarkRetry(ctx context.Context, id uuid.UUID, runAt time.Time, lastErr string) error {
	return s.db.WithContext(ctx).
		Model(&models.QueueJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":      enums.JobStateDelayed,
			"run_at":     runAt,
			"last_error": lastErr,
			"claimed_by": nil,
			"claimed_at": nil,
		}).Error
}

// MarkFailed retains a job that will not be retried automatically.
func (s *GormStore) MarkFailed(ctx context.Context, id uuid.UUID, at time.Time, lastErr string) error {
	return s.db.WithContext(ctx).
		Model(&models.QueueJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":      enums.JobStateFailed,
			"failed_at":  at,
			"last_error": lastErr,
		}).Error
}

// RequeueStalled returns active jobs claimed before cutoff to waiting, or
// fails them when their attempts are exhausted.
func (s *GormStore) RequeueStalled(ctx context.Context, cutoff, now time.Time) (requeued, failed int64, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.QueueJob{}).
			Where("state = ? AND claimed_at < ? AND attempts >= max_attempts", enums.JobStateActive, cutoff).
			Updates(map[string]any{
				"state":      enums.JobStateFailed,
				"failed_at":  now,
				"last_error": "stalled: visibility timeout exceeded",
			})
		if res.Error != nil {
			return res.Error
		}
		failed = res.RowsAffected

		res = tx.Model(&models.QueueJob{}).
			Where("state = ? AND claimed_at < ?", enums.JobStateActive, cutoff).
			Updates(map[string]any{
				"state":      enums.JobStateWaiting,
				"run_at":     now,
				"claimed_by": nil,
				"claimed_at": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		requeued = res.RowsAffected
		return nil
	})
	return requeued, failed, err
}

type stateCount struct {
	State enums.JobState
	Total int64
}

// CountByState returns the number of jobs per state.
func (s *GormStore) CountByState(ctx context.Context) (map[enums.JobState]int64, error) {
	var rows []stateCount
	if err := s.db.WithContext(ctx).
		Model(&models.QueueJob{}).
		Select("state, COUNT(*) AS total").
		Group("state").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[enums.JobState]int64, len(enums.JobStates))
	for _, row := range rows {
		counts[row.State] = row.Total
	}
	return counts, nil
}

// ListFailed returns the most recently failed jobs.
func (s *GormStore) ListFailed(ctx context.Context, limit int) ([]models.QueueJob, error) {
	var jobs []models.QueueJob
	err := s.db.WithContext(ctx).
		Where("state = ?", enums.JobStateFailed).
		Order("failed_at DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// ResetFailed makes a failed job runnable again with a fresh attempt budget.
func (s *GormStore) ResetFailed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.QueueJob{}).
		Where("id = ? AND state = ?", id, enums.JobStateFailed).
		Updates(map[string]any{
			"state":      enums.JobStateWaiting,
			"run_at":     now,
			"attempts":   0,
			"failed_at":  nil,
			"claimed_by": nil,
			"claimed_at": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Delete removes a job that is not currently running.
func (s *GormStore) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("id = ? AND state <> ?", id, enums.JobStateActive).
		Delete(&models.QueueJob{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeleteCompletedBefore prunes completed jobs finished before cutoff.
func (s *GormStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("state = ? AND completed_at < ?", enums.JobStateCompleted, cutoff).
		Delete(&models.QueueJob{})
	return res.RowsAffected, res.Error
}
