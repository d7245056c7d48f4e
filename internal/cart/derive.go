package cart

import (
	"github.com/scentara/storefront-cart/internal/domain"
	"github.com/shopspring/decimal"
)

// deriveItems produces exactly one CartItem per line. Lines whose product is
// missing from the catalog become placeholders.
func deriveItems(lines []domain.CartLine, catalog *domain.Catalog, currency string) []domain.CartItem {
	items := make([]domain.CartItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, deriveItem(line, catalog, currency))
	}
	return items
}

func deriveItem(line domain.CartLine, catalog *domain.Catalog, currency string) domain.CartItem {
	var selected string
	if len(line.PriceOptionIDs) > 0 {
		selected = line.PriceOptionIDs[0]
	}

	product, ok := catalog.Lookup(line.ProductID)
	if !ok {
		return placeholder(line, selected, currency)
	}

	item := domain.CartItem{
		ID:            domain.CartItemID(product.ID, selected),
		ProductID:     product.ID,
		PriceOptionID: selected,
		DisplayName:   product.Name,
		UnitPrice:     decimal.Zero,
		Currency:      currency,
		ImageURL:      product.FeatureImage,
		Quantity:      line.Quantity,
		Tags:          tags(product),
	}
	if opt, ok := product.PriceOption(selected); ok {
		item.ID = domain.CartItemID(product.ID, opt.ID)
		item.PriceOptionID = opt.ID
		item.UnitPrice = opt.EffectivePrice()
		item.SizeLabel = opt.Volume
	}
	return item
}

func placeholder(line domain.CartLine, priceOptionID, currency string) domain.CartItem {
	return domain.CartItem{
		ID:            domain.CartItemID(line.ProductID, priceOptionID),
		ProductID:     line.ProductID,
		PriceOptionID: priceOptionID,
		DisplayName:   domain.UnknownProductName,
		UnitPrice:     decimal.Zero,
		Currency:      currency,
		Quantity:      line.Quantity,
		Tags:          []string{},
	}
}

func tags(p *domain.Product) []string {
	out := make([]string, 0, 2)
	if p.Brand != "" {
		out = append(out, p.Brand)
	}
	if p.Category != "" {
		out = append(out, p.Category)
	}
	return out
}

func totalItems(items []domain.CartItem) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}

func totalPrice(items []domain.CartItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}
