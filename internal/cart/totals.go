package cart

import (
	"time"

	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/shopspring/decimal"
)

// unitPrice is the locked price while the cart's lock holds, else the price
// captured when the item was added.
func unitPrice(cart *models.Cart, item models.CartItem, now time.Time) int64 {
	if item.LockedPriceCents != nil && cart.PriceLockActive(now) {
		return *item.LockedPriceCents
	}
	return item.PriceCents
}

func cartTotals(cart *models.Cart, items []models.CartItem, taxRate decimal.Decimal, now time.Time) Totals {
	var subtotal int64
	for _, item := range items {
		subtotal += unitPrice(cart, item, now) * int64(item.Quantity)
	}
	return computeTotals(subtotal, taxRate)
}

// computeTotals applies the tax rate to a subtotal, rounding tax to whole
// cents half away from zero.
func computeTotals(subtotalCents int64, taxRate decimal.Decimal) Totals {
	tax := decimal.NewFromInt(subtotalCents).Mul(taxRate).Round(0).IntPart()
	return Totals{
		SubtotalCents: subtotalCents,
		TaxCents:      tax,
		TotalCents:    subtotalCents + tax,
	}
}
