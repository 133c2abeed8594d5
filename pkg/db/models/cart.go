package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Cart is a shopper's mutable cart. Exactly one of UserID / SessionID is set
// while the cart is active (not converted and not expired).
type Cart struct {
	ID               uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	UserID           *uuid.UUID `gorm:"column:user_id;type:uuid;uniqueIndex:ux_carts_active_user,where:converted_to_order = false AND expired_at IS NULL"`
	SessionID        *string    `gorm:"column:session_id;uniqueIndex:ux_carts_active_session,where:converted_to_order = false AND expired_at IS NULL"`
	SubtotalCents    int64      `gorm:"column:subtotal_cents;not null;default:0"`
	TaxCents         int64      `gorm:"column:tax_cents;not null;default:0"`
	TotalCents       int64      `gorm:"column:total_cents;not null;default:0"`
	ConvertedToOrder bool       `gorm:"column:converted_to_order;not null;default:false"`
	ConvertedAt      *time.Time `gorm:"column:converted_at"`
	IsAbandoned      bool       `gorm:"column:is_abandoned;not null;default:false;index"`
	ShareToken       *string    `gorm:"column:share_token;uniqueIndex"`
	LockedAt         *time.Time `gorm:"column:locked_at"`
	LockedUntil      *time.Time `gorm:"column:locked_until"`
	LastActivityAt   time.Time  `gorm:"column:last_activity_at;not null;index"`
	ExpiresAt        *time.Time `gorm:"column:expires_at;index"`
	ExpiredAt        *time.Time `gorm:"column:expired_at"`
	Items            []CartItem `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Cart) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// IsActive reports whether the cart still accepts mutations.
func (c *Cart) IsActive() bool {
	return !c.ConvertedToOrder && c.ExpiredAt == nil
}

// PriceLockActive reports whether locked prices are binding at now.
func (c *Cart) PriceLockActive(now time.Time) bool {
	return c.LockedUntil != nil && now.Before(*c.LockedUntil)
}

// OwnedBy reports whether the cart belongs to the given user or session.
func (c *Cart) OwnedBy(userID *uuid.UUID, sessionID *string) bool {
	if userID != nil && c.UserID != nil && *c.UserID == *userID {
		return true
	}
	if sessionID != nil && c.SessionID != nil && *c.SessionID == *sessionID {
		return true
	}
	return false
}
