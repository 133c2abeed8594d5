package cart

import (
	"context"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CartRepository defines the persistence surface required by the cart service.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository

	FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error)
	FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	FindActiveBySession(ctx context.Context, sessionID string) (*models.Cart, error)
	FindByShareToken(ctx context.Context, token string) (*models.Cart, error)
	Create(ctx context.Context, cart *models.Cart) error
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkActivity(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdateTotals(ctx context.Context, id uuid.UUID, totals Totals) error
	SetPriceLock(ctx context.Context, id uuid.UUID, lockedAt, lockedUntil time.Time) error
	SetShareToken(ctx context.Context, id uuid.UUID, token string) (bool, error)
	MarkAbandoned(ctx context.Context, id uuid.UUID, idleSince time.Time) (bool, error)
	MarkConverted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	ListItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error)
	FindItem(ctx context.Context, itemID uuid.UUID) (*models.CartItem, error)
	FindItemByLine(ctx context.Context, cartID uuid.UUID, lineKey string) (*models.CartItem, error)
	CreateItem(ctx context.Context, item *models.CartItem) error
	IncrementItem(ctx context.Context, itemID uuid.UUID, delta int, priceCents int64) error
	SetItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error
	SetItemLockedPrice(ctx context.Context, itemID uuid.UUID, priceCents int64) error
	MoveItem(ctx context.Context, itemID, toCartID uuid.UUID) error
	DeleteItem(ctx context.Context, itemID uuid.UUID) error
	DeleteItems(ctx context.Context, cartID uuid.UUID) error

	ReservedByOthers(ctx context.Context, cartID, productID uuid.UUID, variantID *uuid.UUID, now time.Time) (int, error)
	ReserveItems(ctx context.Context, cartID uuid.UUID, reservedAt, expiry time.Time) error
	ReleaseItems(ctx context.Context, cartID uuid.UUID) error
}

// CatalogReader resolves products and variants for pricing and stock.
type CatalogReader interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetVariant(ctx context.Context, id uuid.UUID) (*models.ProductVariant, error)
}

// AbandonmentRecorder persists recovery bookkeeping for carts.
type AbandonmentRecorder interface {
	Upsert(ctx context.Context, record *models.AbandonmentRecord) (*models.AbandonmentRecord, error)
	MarkRecovered(ctx context.Context, cartID uuid.UUID, valueCents int64, at time.Time) error
}
