package domain

import (
	"slices"
	"strings"
	"time"
)

// LocalCartLine is a guest cart line as persisted in local storage.
type LocalCartLine struct {
	ProductID      string   `json:"productId"`
	PriceOptionIDs []string `json:"productPriceIds"`
	Quantity       int      `json:"quantity"`
	Timestamp      int64    `json:"timestamp"` // unix millis of the last write
}

// Key returns the composite identity of the line: product id plus the
// sorted price option ids.
func (l LocalCartLine) Key() string {
	return LineKey(l.ProductID, l.PriceOptionIDs)
}

// Matches reports whether the line belongs to the given product and price options.
func (l LocalCartLine) Matches(productID string, priceOptionIDs []string) bool {
	return l.Key() == LineKey(productID, priceOptionIDs)
}

// WrittenAt returns the timestamp as a time.Time.
func (l LocalCartLine) WrittenAt() time.Time {
	return time.UnixMilli(l.Timestamp)
}

// LineKey builds the composite key used to deduplicate cart lines. The order
// of priceOptionIDs is irrelevant.
func LineKey(productID string, priceOptionIDs []string) string {
	ids := slices.Clone(priceOptionIDs)
	slices.Sort(ids)
	return productID + "|" + strings.Join(ids, ",")
}

// CartLine is the source-agnostic shape of an authoritative cart line, used
// when deriving display items.
type CartLine struct {
	ProductID      string
	PriceOptionIDs []string
	Quantity       int
}

// ServerCart is the authenticated user's cart as returned by the remote cart API.
type ServerCart struct {
	ID        string           `json:"id"`
	Items     []ServerCartLine `json:"items"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

type ServerCartLine struct {
	Product      ProductSnapshot `json:"product"`
	PriceOptions []PriceOption   `json:"productPrices"`
	Quantity     int             `json:"quantity"`
}

// ProductSnapshot is the product as embedded in a server cart line.
type ProductSnapshot struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Brand        string `json:"brand"`
	Category     string `json:"category"`
	FeatureImage string `json:"featureImage"`
}

// Lines converts the server cart into source-agnostic cart lines.
func (c *ServerCart) Lines() []CartLine {
	if c == nil {
		return nil
	}
	lines := make([]CartLine, 0, len(c.Items))
	for _, item := range c.Items {
		ids := make([]string, 0, len(item.PriceOptions))
		for _, p := range item.PriceOptions {
			ids = append(ids, p.ID)
		}
		lines = append(lines, CartLine{
			ProductID:      item.Product.ID,
			PriceOptionIDs: ids,
			Quantity:       item.Quantity,
		})
	}
	return lines
}
