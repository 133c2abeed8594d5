package abandonment

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/angelmondragon/cartrecovery-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists abandonment records.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs an abandonment repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Upsert inserts the record or refreshes the snapshot of the existing one
// for the same cart. Contact fields are only overwritten when provided.
func (r *Repository) Upsert(ctx context.Context, record *models.AbandonmentRecord) (*models.AbandonmentRecord, error) {
	if record == nil {
		return nil, errors.New("record is required")
	}
	row := *record
	row.ID = uuid.Nil
	if row.Stages == nil {
		row.Stages = models.StageLogs{}
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "cart_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"cart_value_cents": gorm.Expr("excluded.cart_value_cents"),
			"item_count":       gorm.Expr("excluded.item_count"),
			"idle_at":          gorm.Expr("excluded.idle_at"),
			"email":            gorm.Expr("COALESCE(excluded.email, abandonment_records.email)"),
			"phone":            gorm.Expr("COALESCE(excluded.phone, abandonment_records.phone)"),
			"updated_at":       gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&row).Error
	if err != nil {
		return nil, err
	}
	return r.FindByCartID(ctx, record.CartID)
}

// FindByID loads a record by id.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.AbandonmentRecord, error) {
	var record models.AbandonmentRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByCartID loads the record attached to a cart.
func (r *Repository) FindByCartID(ctx context.Context, cartID uuid.UUID) (*models.AbandonmentRecord, error) {
	var record models.AbandonmentRecord
	if err := r.db.WithContext(ctx).First(&record, "cart_id = ?", cartID).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// SaveProgress writes the campaign fields of a record unless it has been
// recovered in the meantime. It reports whether a row was updated.
func (r *Repository) SaveProgress(ctx context.Context, record *models.AbandonmentRecord) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.AbandonmentRecord{}).
		Where("id = ? AND status <> ?", record.ID, enums.AbandonmentStatusRecovered).
		Updates(map[string]any{
			"status":           record.Status,
			"stages":           record.Stages,
			"next_reminder_at": record.NextReminderAt,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateStages overwrites the stage log regardless of status.
func (r *Repository) UpdateStages(ctx context.Context, id uuid.UUID, stages models.StageLogs) error {
	return r.db.WithContext(ctx).
		Model(&models.AbandonmentRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"stages":     stages,
			"updated_at": time.Now().UTC(),
		}).Error
}

// MarkRecovered closes the campaign of a converted cart. Carts without a
// record and records already recovered are left untouched.
func (r *Repository) MarkRecovered(ctx context.Context, cartID uuid.UUID, valueCents int64, at time.Time) error {
	record, err := r.FindByCartID(ctx, cartID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if record.Status == enums.AbandonmentStatusRecovered {
		return nil
	}

	if stage, ok := lastSentStage(record); ok {
		record.Stage(stage).ConvertedAt = &at
	}
	return r.db.WithContext(ctx).
		Model(&models.AbandonmentRecord{}).
		Where("id = ? AND status <> ?", record.ID, enums.AbandonmentStatusRecovered).
		Updates(map[string]any{
			"status":                enums.AbandonmentStatusRecovered,
			"recovered_at":          at,
			"recovered_value_cents": valueCents,
			"next_reminder_at":      nil,
			"stages":                record.Stages,
			"updated_at":            time.Now().UTC(),
		}).Error
}

// DueForReminder lists open campaigns whose next reminder time has passed.
func (r *Repository) DueForReminder(ctx context.Context, now time.Time, limit int) ([]models.AbandonmentRecord, error) {
	var records []models.AbandonmentRecord
	err := r.db.WithContext(ctx).
		Where("status IN ? AND next_reminder_at IS NOT NULL AND next_reminder_at <= ?",
			[]enums.AbandonmentStatus{enums.AbandonmentStatusPending, enums.AbandonmentStatusReminding}, now).
		Order("next_reminder_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// DeferReminder moves the next reminder time of an open campaign out to
// until. An earlier pending time is never pulled forward.
func (r *Repository) DeferReminder(ctx context.Context, id uuid.UUID, until time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.AbandonmentRecord{}).
		Where("id = ? AND status IN ?", id,
			[]enums.AbandonmentStatus{enums.AbandonmentStatusPending, enums.AbandonmentStatusReminding}).
		Where("next_reminder_at IS NOT NULL AND next_reminder_at < ?", until).
		Updates(map[string]any{
			"next_reminder_at": until,
			"updated_at":       time.Now().UTC(),
		}).Error
}

// ListCreatedBetween returns records created within [from, to).
func (r *Repository) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]models.AbandonmentRecord, error) {
	var records []models.AbandonmentRecord
	err := r.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}

// DeleteSettledBefore removes records created before cutoff whose campaign
// is over or whose cart has been converted.
func (r *Repository) DeleteSettledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	converted := r.db.Model(&models.Cart{}).Select("id").Where("converted_to_order = ?", true)
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Where(r.db.Where("status IN ?", []enums.AbandonmentStatus{
			enums.AbandonmentStatusRecovered,
			enums.AbandonmentStatusLost,
		}).Or("cart_id IN (?)", converted)).
		Delete(&models.AbandonmentRecord{})
	return res.RowsAffected, res.Error
}

func lastSentStage(record *models.AbandonmentRecord) (enums.ReminderStage, bool) {
	var (
		latest *time.Time
		stage  enums.ReminderStage
	)
	for _, candidate := range enums.ReminderStages {
		log, ok := record.Stages[candidate]
		if !ok || log == nil || log.SentAt == nil {
			continue
		}
		if latest == nil || log.SentAt.After(*latest) {
			latest = log.SentAt
			stage = candidate
		}
	}
	return stage, latest != nil
}
