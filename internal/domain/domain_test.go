package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineKey_IgnoresPriceOptionOrder(t *testing.T) {
	assert.Equal(t, LineKey("P1", []string{"V2", "V1"}), LineKey("P1", []string{"V1", "V2"}))
	assert.NotEqual(t, LineKey("P1", []string{"V1"}), LineKey("P2", []string{"V1"}))
}

func TestLineKey_DoesNotMutateInput(t *testing.T) {
	ids := []string{"b", "a"}
	LineKey("P1", ids)
	assert.Equal(t, []string{"b", "a"}, ids)
}

func TestEffectivePrice(t *testing.T) {
	discount := decimal.NewFromInt(10)
	opt := PriceOption{ID: "V1", Price: decimal.RequireFromString("50.00"), Discount: &discount}
	assert.True(t, decimal.RequireFromString("45").Equal(opt.EffectivePrice()))

	noDiscount := PriceOption{ID: "V2", Price: decimal.RequireFromString("12.34")}
	assert.True(t, decimal.RequireFromString("12.34").Equal(noDiscount.EffectivePrice()))
}

func TestProductPriceOption_FallsBackToFirst(t *testing.T) {
	p := Product{ID: "P1", Prices: []PriceOption{{ID: "V1"}, {ID: "V2"}}}

	opt, ok := p.PriceOption("V2")
	require.True(t, ok)
	assert.Equal(t, "V2", opt.ID)

	opt, ok = p.PriceOption("gone")
	require.True(t, ok)
	assert.Equal(t, "V1", opt.ID)

	empty := Product{ID: "P2"}
	_, ok = empty.PriceOption("V1")
	assert.False(t, ok)
}

func TestCatalogLookup(t *testing.T) {
	c := NewCatalog([]Product{{ID: "P1", Name: "Oud"}})

	p, ok := c.Lookup("P1")
	require.True(t, ok)
	assert.Equal(t, "Oud", p.Name)

	_, ok = c.Lookup("P2")
	assert.False(t, ok)

	var nilCatalog *Catalog
	_, ok = nilCatalog.Lookup("P1")
	assert.False(t, ok)
}

func TestFormatMoney(t *testing.T) {
	amount := decimal.RequireFromString("12.3")
	assert.Equal(t, "$12.30", FormatMoney(amount, "USD"))
	assert.Equal(t, "CHF 12.30", FormatMoney(amount, "CHF"))
	assert.Equal(t, "12.30", FormatMoney(amount, ""))
}

func TestLocalCartLine_JSONShape(t *testing.T) {
	line := LocalCartLine{ProductID: "P1", PriceOptionIDs: []string{"V1"}, Quantity: 2, Timestamp: 1700000000000}
	data, err := json.Marshal(line)
	require.NoError(t, err)
	assert.JSONEq(t, `{"productId":"P1","productPriceIds":["V1"],"quantity":2,"timestamp":1700000000000}`, string(data))
}

func TestServerCartLines(t *testing.T) {
	cart := &ServerCart{Items: []ServerCartLine{{
		Product:      ProductSnapshot{ID: "P1"},
		PriceOptions: []PriceOption{{ID: "V1"}},
		Quantity:     3,
	}}}

	lines := cart.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, CartLine{ProductID: "P1", PriceOptionIDs: []string{"V1"}, Quantity: 3}, lines[0])

	var nilCart *ServerCart
	assert.Nil(t, nilCart.Lines())
}
