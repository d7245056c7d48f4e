package domain

import "github.com/shopspring/decimal"

// PriceOption is a purchasable variant of a product, e.g. a given volume.
type PriceOption struct {
	ID       string           `json:"id"`
	Volume   string           `json:"volume"`
	Price    decimal.Decimal  `json:"price"`
	Discount *decimal.Decimal `json:"discount,omitempty"` // percent
}

// EffectivePrice applies the discount percentage, if any.
func (p PriceOption) EffectivePrice() decimal.Decimal {
	if p.Discount == nil || p.Discount.IsZero() {
		return p.Price
	}
	off := p.Price.Mul(*p.Discount).Div(decimal.NewFromInt(100))
	return p.Price.Sub(off)
}

type Product struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Brand        string        `json:"brand"`
	Category     string        `json:"category"`
	FeatureImage string        `json:"featureImage"`
	Prices       []PriceOption `json:"productPrices"`
}

// PriceOption resolves the option with the given id, falling back to the
// first available one. ok is false when the product has no price options.
func (p *Product) PriceOption(id string) (PriceOption, bool) {
	for _, opt := range p.Prices {
		if opt.ID == id {
			return opt, true
		}
	}
	if len(p.Prices) == 0 {
		return PriceOption{}, false
	}
	return p.Prices[0], true
}

// Catalog is a read-only snapshot of the product list indexed by id.
type Catalog struct {
	Products []Product
	byID     map[string]int
}

func NewCatalog(products []Product) *Catalog {
	c := &Catalog{
		Products: products,
		byID:     make(map[string]int, len(products)),
	}
	for i, p := range products {
		c.byID[p.ID] = i
	}
	return c
}

// Lookup finds a product by id. A nil catalog resolves nothing.
func (c *Catalog) Lookup(id string) (*Product, bool) {
	if c == nil {
		return nil, false
	}
	i, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return &c.Products[i], true
}
