package cart

import (
	"github.com/shopspring/decimal"

	"marketplace-storefront/internal/models"
)

// Pricing holds the shipping rule applied to every summary
type Pricing struct {
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
}

// Shipping returns zero when subtotal is strictly above the free-shipping
// threshold and the flat fee otherwise
func (p Pricing) Shipping(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThan(p.FreeShippingThreshold) {
		return decimal.Zero
	}
	return p.FlatShippingFee
}

// Summarize derives the cart summary. It is recomputed on every call.
func Summarize(items []models.CartItem, pricing Pricing) models.CartSummary {
	subtotal := decimal.Zero
	savings := decimal.Zero
	totalItems := 0

	for _, item := range items {
		qty := decimal.NewFromInt(int64(item.Quantity))
		subtotal = subtotal.Add(item.UnitPrice.Mul(qty))

		original := item.UnitPrice
		if item.OriginalUnitPrice != nil {
			original = *item.OriginalUnitPrice
		}
		savings = savings.Add(original.Sub(item.UnitPrice).Mul(qty))
		totalItems += item.Quantity
	}

	shipping := pricing.Shipping(subtotal)
	if items == nil {
		items = []models.CartItem{}
	}

	return models.CartSummary{
		Items:        items,
		TotalItems:   totalItems,
		Subtotal:     subtotal,
		TotalSavings: savings,
		Shipping:     shipping,
		Total:        subtotal.Add(shipping),
	}
}
