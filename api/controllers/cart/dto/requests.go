package cartdto

// AddItemRequest adds units of a product line to a cart.
type AddItemRequest struct {
	ProductID string  `json:"product_id" validate:"required,uuid"`
	VariantID *string `json:"variant_id,omitempty" validate:"omitempty,uuid"`
	Quantity  int     `json:"quantity" validate:"required,min=1"`
}

// UpdateItemRequest sets a line quantity. Zero removes the line.
type UpdateItemRequest struct {
	Quantity *int `json:"quantity" validate:"required,min=0"`
}

// MergeRequest names the guest session to fold into the caller's cart. The
// X-Session-ID header is used when SessionID is empty.
type MergeRequest struct {
	SessionID string `json:"session_id,omitempty" validate:"omitempty,max=128"`
}

// LockPricesRequest freezes current prices for DurationHours.
type LockPricesRequest struct {
	DurationHours int `json:"duration_hours" validate:"required,min=1"`
}

// ReserveRequest holds stock for DurationMinutes.
type ReserveRequest struct {
	DurationMinutes int `json:"duration_minutes" validate:"required,min=1"`
}

// TrackAbandonmentRequest captures shopper contact for recovery reminders.
type TrackAbandonmentRequest struct {
	Email string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Phone string `json:"phone,omitempty" validate:"omitempty,max=32"`
}
