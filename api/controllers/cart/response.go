package cart

import (
	cartdto "github.com/angelmondragon/cartrecovery-backend/api/controllers/cart/dto"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
)

func newCart(record *models.Cart) cartdto.Cart {
	items := make([]cartdto.CartItem, 0, len(record.Items))
	count := 0
	for _, item := range record.Items {
		count += item.Quantity
		items = append(items, cartdto.CartItem{
			ID:                item.ID,
			ProductID:         item.ProductID,
			VariantID:         item.VariantID,
			Quantity:          item.Quantity,
			PriceCents:        item.PriceCents,
			LockedPriceCents:  item.LockedPriceCents,
			InventoryReserved: item.InventoryReserved,
			ReservationExpiry: item.ReservationExpiry,
		})
	}

	return cartdto.Cart{
		ID:               record.ID,
		UserID:           record.UserID,
		SessionID:        record.SessionID,
		SubtotalCents:    record.SubtotalCents,
		TaxCents:         record.TaxCents,
		TotalCents:       record.TotalCents,
		ItemCount:        count,
		ConvertedToOrder: record.ConvertedToOrder,
		ConvertedAt:      record.ConvertedAt,
		IsAbandoned:      record.IsAbandoned,
		LockedUntil:      record.LockedUntil,
		LastActivityAt:   record.LastActivityAt,
		ExpiresAt:        record.ExpiresAt,
		Items:            items,
		CreatedAt:        record.CreatedAt,
		UpdatedAt:        record.UpdatedAt,
	}
}

// newSharedCart hides owner identity from share-link viewers.
func newSharedCart(record *models.Cart) cartdto.Cart {
	out := newCart(record)
	out.UserID = nil
	out.SessionID = nil
	return out
}

func newAbandonmentRecord(record *models.AbandonmentRecord) cartdto.AbandonmentRecord {
	return cartdto.AbandonmentRecord{
		ID:             record.ID,
		CartID:         record.CartID,
		Status:         string(record.Status),
		CartValueCents: record.CartValueCents,
		ItemCount:      record.ItemCount,
		IdleAt:         record.IdleAt,
		NextReminderAt: record.NextReminderAt,
	}
}
