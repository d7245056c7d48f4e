package domain

import "github.com/shopspring/decimal"

const UnknownProductName = "Unknown Product"

// CartItem is the display shape of one cart line. It is derived from the
// authoritative source and the catalog snapshot and never persisted.
type CartItem struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"productId"`
	PriceOptionID string          `json:"priceOptionId"`
	DisplayName   string          `json:"name"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	Currency      string          `json:"currency"`
	SizeLabel     string          `json:"size"`
	ImageURL      string          `json:"image"`
	Quantity      int             `json:"quantity"`
	Tags          []string        `json:"tags"`
}

// LineTotal is UnitPrice * Quantity.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// FormattedPrice renders the unit price for display.
func (i CartItem) FormattedPrice() string {
	return FormatMoney(i.UnitPrice, i.Currency)
}

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
}

// FormatMoney formats an amount with two decimals and the currency symbol,
// or the ISO code when no symbol is known.
func FormatMoney(amount decimal.Decimal, currency string) string {
	if sym, ok := currencySymbols[currency]; ok {
		return sym + amount.StringFixed(2)
	}
	if currency == "" {
		return amount.StringFixed(2)
	}
	return currency + " " + amount.StringFixed(2)
}

func CartItemID(productID, priceOptionID string) string {
	return productID + "-" + priceOptionID
}
