package cartdto

import (
	"time"

	"github.com/google/uuid"
)

// Cart is the cart snapshot exposed through the API.
type Cart struct {
	ID               uuid.UUID  `json:"id"`
	UserID           *uuid.UUID `json:"user_id,omitempty"`
	SessionID        *string    `json:"session_id,omitempty"`
	SubtotalCents    int64      `json:"subtotal_cents"`
	TaxCents         int64      `json:"tax_cents"`
	TotalCents       int64      `json:"total_cents"`
	ItemCount        int        `json:"item_count"`
	ConvertedToOrder bool       `json:"converted_to_order"`
	ConvertedAt      *time.Time `json:"converted_at,omitempty"`
	IsAbandoned      bool       `json:"is_abandoned"`
	LockedUntil      *time.Time `json:"locked_until,omitempty"`
	LastActivityAt   time.Time  `json:"last_activity_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	Items            []CartItem `json:"items"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CartItem is one line of a cart snapshot.
type CartItem struct {
	ID                uuid.UUID  `json:"id"`
	ProductID         uuid.UUID  `json:"product_id"`
	VariantID         *uuid.UUID `json:"variant_id,omitempty"`
	Quantity          int        `json:"quantity"`
	PriceCents        int64      `json:"price_cents"`
	LockedPriceCents  *int64     `json:"locked_price_cents,omitempty"`
	InventoryReserved bool       `json:"inventory_reserved"`
	ReservationExpiry *time.Time `json:"reservation_expiry,omitempty"`
}

// ShareLink is returned when a cart share token is issued.
type ShareLink struct {
	CartID uuid.UUID `json:"cart_id"`
	Token  string    `json:"token"`
}

// AbandonmentRecord summarizes the recovery campaign attached to a cart.
type AbandonmentRecord struct {
	ID             uuid.UUID  `json:"id"`
	CartID         uuid.UUID  `json:"cart_id"`
	Status         string     `json:"status"`
	CartValueCents int64      `json:"cart_value_cents"`
	ItemCount      int        `json:"item_count"`
	IdleAt         time.Time  `json:"idle_at"`
	NextReminderAt *time.Time `json:"next_reminder_at,omitempty"`
}
