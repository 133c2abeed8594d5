package catalog

import "github.com/angelmondragon/cartrecovery-backend/pkg/db/models"

// EffectivePrice returns the live unit price in cents: the variant price when
// the variant defines one, otherwise the product price.
func EffectivePrice(product *models.Product, variant *models.ProductVariant) int64 {
	if variant != nil && variant.PriceCents != nil {
		return *variant.PriceCents
	}
	if product == nil {
		return 0
	}
	return product.PriceCents
}

// AvailableStock returns the on-hand stock for the (product, variant) line.
func AvailableStock(product *models.Product, variant *models.ProductVariant) int {
	if variant != nil {
		return variant.Stock
	}
	if product == nil {
		return 0
	}
	return product.Stock
}
