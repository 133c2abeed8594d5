package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CartItem is one (product, variant) line of a cart. LineKey keeps the
// combination unique per cart.
type CartItem struct {
	ID                uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	CartID            uuid.UUID  `gorm:"column:cart_id;type:uuid;not null;uniqueIndex:ux_cart_items_cart_line,priority:1"`
	ProductID         uuid.UUID  `gorm:"column:product_id;type:uuid;not null;index"`
	VariantID         *uuid.UUID `gorm:"column:variant_id;type:uuid"`
	LineKey           string     `gorm:"column:line_key;not null;uniqueIndex:ux_cart_items_cart_line,priority:2"`
	Quantity          int        `gorm:"column:quantity;not null"`
	PriceCents        int64      `gorm:"column:price_cents;not null"`
	LockedPriceCents  *int64     `gorm:"column:locked_price_cents"`
	InventoryReserved bool       `gorm:"column:inventory_reserved;not null;default:false"`
	ReservedAt        *time.Time `gorm:"column:reserved_at"`
	ReservationExpiry *time.Time `gorm:"column:reservation_expiry;index"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *CartItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	if i.LineKey == "" {
		i.LineKey = LineKey(i.ProductID, i.VariantID)
	}
	return nil
}

// LineKey identifies a (product, variant) combination inside a cart.
func LineKey(productID uuid.UUID, variantID *uuid.UUID) string {
	if variantID == nil {
		return productID.String() + ":base"
	}
	return productID.String() + ":" + variantID.String()
}

// ReservationActive reports whether the item holds stock at now.
func (i *CartItem) ReservationActive(now time.Time) bool {
	return i.InventoryReserved && i.ReservationExpiry != nil && now.Before(*i.ReservationExpiry)
}
