package cart

import (
	"context"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/angelmondragon/cartrecovery-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FindIdleCarts returns carts idle since before cutoff that hold items and
// still need a recovery campaign: not yet flagged, flagged without a record,
// or flagged through TrackAbandonment without reminders scheduled.
func (r *Repository) FindIdleCarts(ctx context.Context, cutoff time.Time, limit int) ([]models.Cart, error) {
	q := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Select("carts.*").
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Joins("LEFT JOIN abandonment_records ar ON ar.cart_id = carts.id").
		Where("carts.last_activity_at < ?", cutoff).
		Where("carts.converted_to_order = ? AND carts.expired_at IS NULL", false).
		Where("EXISTS (SELECT 1 FROM cart_items ci WHERE ci.cart_id = carts.id)").
		Where("carts.is_abandoned = ? OR ar.id IS NULL OR (ar.status = ? AND ar.next_reminder_at IS NULL)",
			false, enums.AbandonmentStatusPending).
		Order("carts.last_activity_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var carts []models.Cart
	if err := q.Find(&carts).Error; err != nil {
		return nil, err
	}
	return carts, nil
}

// ExpireGuestCarts closes guest carts whose TTL elapsed before now: stamps
// expired_at, drops the session reference and releases reservations.
func (r *Repository) ExpireGuestCarts(ctx context.Context, now time.Time) (int64, error) {
	var expired int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uuid.UUID
		if err := tx.Model(&models.Cart{}).
			Where("user_id IS NULL AND expired_at IS NULL AND converted_to_order = ?", false).
			Where("expires_at IS NOT NULL AND expires_at <= ?", now).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		res := tx.Model(&models.Cart{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"expired_at": now,
				"session_id": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		expired = res.RowsAffected
		return tx.Model(&models.CartItem{}).
			Where("cart_id IN ?", ids).
			Updates(map[string]any{
				"inventory_reserved": false,
				"reserved_at":        nil,
				"reservation_expiry": nil,
			}).Error
	})
	return expired, err
}

// ClearExpiredReservations resets reservation fields whose expiry has passed.
func (r *Repository) ClearExpiredReservations(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("inventory_reserved = ? AND reservation_expiry <= ?", true, now).
		Updates(map[string]any{
			"inventory_reserved": false,
			"reserved_at":        nil,
			"reservation_expiry": nil,
		})
	return res.RowsAffected, res.Error
}
