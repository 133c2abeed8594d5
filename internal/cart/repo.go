package cart

import (
	"context"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository exposes persistence operations for carts and their items.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) withItems(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC")
	})
}

func activeCarts(db *gorm.DB) *gorm.DB {
	return db.Where("converted_to_order = ? AND expired_at IS NULL", false)
}

// FindByID loads a cart with its items.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	if err := r.withItems(ctx).First(&cart, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &cart, nil
}

// FindActiveByUser loads the user's non-converted, non-expired cart.
func (r *Repository) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	if err := activeCarts(r.withItems(ctx)).Where("user_id = ?", userID).First(&cart).Error; err != nil {
		return nil, err
	}
	return &cart, nil
}

// FindActiveBySession loads the guest session's non-converted, non-expired cart.
func (r *Repository) FindActiveBySession(ctx context.Context, sessionID string) (*models.Cart, error) {
	var cart models.Cart
	if err := activeCarts(r.withItems(ctx)).Where("session_id = ?", sessionID).First(&cart).Error; err != nil {
		return nil, err
	}
	return &cart, nil
}

// FindByShareToken resolves a shared cart.
func (r *Repository) FindByShareToken(ctx context.Context, token string) (*models.Cart, error) {
	var cart models.Cart
	if err := r.withItems(ctx).First(&cart, "share_token = ?", token).Error; err != nil {
		return nil, err
	}
	return &cart, nil
}

// Create inserts a new cart.
func (r *Repository) Create(ctx context.Context, cart *models.Cart) error {
	return r.db.WithContext(ctx).Omit("Items").Create(cart).Error
}

// Touch stamps last_activity_at without changing the abandonment flag.
func (r *Repository) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", id).
		Update("last_activity_at", at).Error
}

// MarkActivity records a shopper mutation: bumps last_activity_at and clears
// the abandonment flag.
func (r *Repository) MarkActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_activity_at": at,
			"is_abandoned":     false,
		}).Error
}

// UpdateTotals persists recomputed money columns.
func (r *Repository) UpdateTotals(ctx context.Context, id uuid.UUID, totals Totals) error {
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"subtotal_cents": totals.SubtotalCents,
			"tax_cents":      totals.TaxCents,
			"total_cents":    totals.TotalCents,
		}).Error
}

// SetPriceLock stamps the price-lock window.
func (r *Repository) SetPriceLock(ctx context.Context, id uuid.UUID, lockedAt, lockedUntil time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"locked_at":    lockedAt,
			"locked_until": lockedUntil,
		}).Error
}

// SetShareToken assigns a share token unless one is already present. It
// reports whether the token was written.
func (r *Repository) SetShareToken(ctx context.Context, id uuid.UUID, token string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND share_token IS NULL", id).
		Update("share_token", token)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkAbandoned flags an open cart as abandoned provided nothing touched it
// after idleSince. It reports false when the cart saw newer activity, was
// converted or expired, so a stale idle read never flags a live cart.
func (r *Repository) MarkAbandoned(ctx context.Context, id uuid.UUID, idleSince time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND last_activity_at <= ?", id, idleSince).
		Where("converted_to_order = ? AND expired_at IS NULL", false).
		Update("is_abandoned", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkConverted sets the terminal converted flag. It reports false when the
// cart was already converted.
func (r *Repository) MarkConverted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND converted_to_order = ?", id, false).
		Updates(map[string]any{
			"converted_to_order": true,
			"converted_at":       at,
			"is_abandoned":       false,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListItems returns items belonging to a cart in insertion order.
func (r *Repository) ListItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error) {
	var rows []models.CartItem
	if err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FindItem loads a single cart item.
func (r *Repository) FindItem(ctx context.Context, itemID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	if err := r.db.WithContext(ctx).First(&item, "id = ?", itemID).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// FindItemByLine loads the item for a (product, variant) line of a cart.
func (r *Repository) FindItemByLine(ctx context.Context, cartID uuid.UUID, lineKey string) (*models.CartItem, error) {
	var item models.CartItem
	if err := r.db.WithContext(ctx).
		First(&item, "cart_id = ? AND line_key = ?", cartID, lineKey).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// CreateItem inserts a new line.
func (r *Repository) CreateItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// IncrementItem adds delta to the stored quantity in a single statement and
// re-captures the unit price.
func (r *Repository) IncrementItem(ctx context.Context, itemID uuid.UUID, delta int, priceCents int64) error {
	return r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", itemID).
		Updates(map[string]any{
			"quantity":    gorm.Expr("quantity + ?", delta),
			"price_cents": priceCents,
		}).Error
}

// SetItemQuantity overwrites the quantity (last writer wins).
func (r *Repository) SetItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error {
	return r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", itemID).
		Update("quantity", quantity).Error
}

// SetItemLockedPrice snapshots the price honored during a lock window.
func (r *Repository) SetItemLockedPrice(ctx context.Context, itemID uuid.UUID, priceCents int64) error {
	return r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", itemID).
		Update("locked_price_cents", priceCents).Error
}

// MoveItem reassigns an item to another cart.
func (r *Repository) MoveItem(ctx context.Context, itemID, toCartID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", itemID).
		Update("cart_id", toCartID).Error
}

// DeleteItem removes a single item.
func (r *Repository) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", itemID).Delete(&models.CartItem{}).Error
}

// DeleteItems removes every item of a cart.
func (r *Repository) DeleteItems(ctx context.Context, cartID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error
}

// ReservedByOthers sums the quantity of a (product, variant) line currently
// held by other carts.
func (r *Repository) ReservedByOthers(ctx context.Context, cartID, productID uuid.UUID, variantID *uuid.UUID, now time.Time) (int, error) {
	q := r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("cart_id <> ? AND product_id = ? AND inventory_reserved = ? AND reservation_expiry > ?", cartID, productID, true, now)
	if variantID != nil {
		q = q.Where("variant_id = ?", *variantID)
	} else {
		q = q.Where("variant_id IS NULL")
	}
	var total int64
	if err := q.Scan(&total).Error; err != nil {
		return 0, err
	}
	return int(total), nil
}

// ReserveItems stamps a reservation on every item of the cart.
func (r *Repository) ReserveItems(ctx context.Context, cartID uuid.UUID, reservedAt, expiry time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("cart_id = ?", cartID).
		Updates(map[string]any{
			"inventory_reserved": true,
			"reserved_at":        reservedAt,
			"reservation_expiry": expiry,
		}).Error
}

// ReleaseItems clears reservation fields on every item of the cart.
func (r *Repository) ReleaseItems(ctx context.Context, cartID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("cart_id = ?", cartID).
		Updates(map[string]any{
			"inventory_reserved": false,
			"reserved_at":        nil,
			"reservation_expiry": nil,
		}).Error
}
