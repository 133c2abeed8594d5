package cron

import (
	"context"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists recurring registrations in recurring_jobs.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore binds the store to db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Upsert inserts the registration or replaces the one with the same name.
func (s *GormStore) Upsert(ctx context.Context, job *models.RecurringJob) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"kind", "schedule", "payload", "priority", "next_run_at", "updated_at"}),
		}).
		Create(job).Error
}

// Due lists registrations whose next run is at or before now.
func (s *GormStore) Due(ctx context.Context, now time.Time) ([]models.RecurringJob, error) {
	var jobs []models.RecurringJob
	err := s.db.WithContext(ctx).
		Where("next_run_at <= ?", now).
		Order("next_run_at ASC").
		Find(&jobs).Error
	return jobs, err
}

// Advance records a dispatch and arms the next run.
func (s *GormStore) Advance(ctx context.Context, name string, lastRun, nextRun time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.RecurringJob{}).
		Where("name = ?", name).
		Updates(map[string]any{
			"last_run_at": lastRun,
			"next_run_at": nextRun,
		}).Error
}

// List returns every registration ordered by name.
func (s *GormStore) List(ctx context.Context) ([]models.RecurringJob, error) {
	var jobs []models.RecurringJob
	err := s.db.WithContext(ctx).Order("name ASC").Find(&jobs).Error
	return jobs, err
}

// Delete removes a registration by name.
func (s *GormStore) Delete(ctx context.Context, name string) (bool, error) {
	res := s.db.WithContext(ctx).Where("name = ?", name).Delete(&models.RecurringJob{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
