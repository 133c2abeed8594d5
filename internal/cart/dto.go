package cart

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OwnerRef identifies who a cart belongs to: an authenticated user or a guest
// session. Exactly one must be set.
type OwnerRef struct {
	UserID    *uuid.UUID
	SessionID *string
}

// UserOwner builds an OwnerRef for an authenticated user.
func UserOwner(id uuid.UUID) OwnerRef {
	return OwnerRef{UserID: &id}
}

// SessionOwner builds an OwnerRef for a guest session.
func SessionOwner(sessionID string) OwnerRef {
	return OwnerRef{SessionID: &sessionID}
}

func (o OwnerRef) valid() bool {
	hasUser := o.UserID != nil && *o.UserID != uuid.Nil
	hasSession := o.SessionID != nil && strings.TrimSpace(*o.SessionID) != ""
	return hasUser != hasSession
}

func (o OwnerRef) isGuest() bool {
	return o.SessionID != nil && o.UserID == nil
}

// Contact is the shopper contact captured for recovery reminders.
type Contact struct {
	Email string
	Phone string
}

// Totals are the computed money columns of a cart, in cents.
type Totals struct {
	SubtotalCents int64
	TaxCents      int64
	TotalCents    int64
}

// StockShortage describes one item that could not be reserved.
type StockShortage struct {
	ItemID    uuid.UUID  `json:"item_id"`
	ProductID uuid.UUID  `json:"product_id"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Requested int        `json:"requested"`
	Available int        `json:"available"`
}

// Quote prices a cart for checkout, honoring an active price lock.
type Quote struct {
	CartID        uuid.UUID   `json:"cart_id"`
	Lines         []QuoteLine `json:"lines"`
	SubtotalCents int64       `json:"subtotal_cents"`
	TaxCents      int64       `json:"tax_cents"`
	TotalCents    int64       `json:"total_cents"`
	LockedUntil   *time.Time  `json:"locked_until,omitempty"`
}

// QuoteLine is the billable price of one cart item.
type QuoteLine struct {
	ItemID         uuid.UUID  `json:"item_id"`
	ProductID      uuid.UUID  `json:"product_id"`
	VariantID      *uuid.UUID `json:"variant_id,omitempty"`
	Quantity       int        `json:"quantity"`
	UnitPriceCents int64      `json:"unit_price_cents"`
	LineTotalCents int64      `json:"line_total_cents"`
	PriceLocked    bool       `json:"price_locked"`
	Available      bool       `json:"available"`
}
