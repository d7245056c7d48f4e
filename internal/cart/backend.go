package cart

import (
	"context"

	"github.com/scentara/storefront-cart/internal/domain"
)

// LocalStore is the guest cart persistence. Its methods never fail; storage
// errors are absorbed by the implementation.
type LocalStore interface {
	Save(ctx context.Context, line domain.LocalCartLine)
	List(ctx context.Context) []domain.LocalCartLine
	Remove(ctx context.Context, productID string, priceOptionIDs []string)
	RemoveProduct(ctx context.Context, productID string)
	UpdateQuantity(ctx context.Context, productID string, priceOptionIDs []string, quantity int)
	Clear(ctx context.Context)
}

// RemoteCart is the authenticated cart API bound to the caller's token.
type RemoteCart interface {
	Fetch(ctx context.Context) (*domain.ServerCart, error)
	AddItem(ctx context.Context, productID string, priceOptionIDs []string, quantity int) error
	UpdateQuantity(ctx context.Context, productID string, priceOptionIDs []string, quantity int) error
	RemoveItem(ctx context.Context, productID string) error
	Clear(ctx context.Context) error
}

// Backend is the authoritative source for one call: the guest cart or the
// server cart.
type Backend interface {
	Add(ctx context.Context, productID string, priceOptionIDs []string, quantity int) error
	Remove(ctx context.Context, productID string, priceOptionIDs []string) error
	UpdateQuantity(ctx context.Context, productID string, priceOptionIDs []string, quantity int) error
	Clear(ctx context.Context) error
	Lines(ctx context.Context) ([]domain.CartLine, error)
}

type localBackend struct {
	store LocalStore
}

func (b localBackend) Add(ctx context.Context, productID string, priceOptionIDs []string, quantity int) error {
	b.store.Save(ctx, domain.LocalCartLine{
		ProductID:      productID,
		PriceOptionIDs: priceOptionIDs,
		Quantity:       quantity,
	})
	return nil
}

// Remove drops the line with exactly these price options. Without price
// options it drops every line of the product, like the server cart does.
func (b localBackend) Remove(ctx context.Context, productID string, priceOptionIDs []string) error {
	if len(priceOptionIDs) == 0 {
		b.store.RemoveProduct(ctx, productID)
		return nil
	}
	b.store.Remove(ctx, productID, priceOptionIDs)
	return nil
}

func (b localBackend) UpdateQuantity(ctx context.Context, productID string, priceOptionIDs []string, quantity int) error {
	b.store.UpdateQuantity(ctx, productID, priceOptionIDs, quantity)
	return nil
}

func (b localBackend) Clear(ctx context.Context) error {
	b.store.Clear(ctx)
	return nil
}

func (b localBackend) Lines(ctx context.Context) ([]domain.CartLine, error) {
	stored := b.store.List(ctx)
	lines := make([]domain.CartLine, 0, len(stored))
	for _, l := range stored {
		lines = append(lines, domain.CartLine{
			ProductID:      l.ProductID,
			PriceOptionIDs: l.PriceOptionIDs,
			Quantity:       l.Quantity,
		})
	}
	return lines, nil
}

type remoteBackend struct {
	api RemoteCart
}

func (b remoteBackend) Add(ctx context.Context, productID string, priceOptionIDs []string, quantity int) error {
	return b.api.AddItem(ctx, productID, priceOptionIDs, quantity)
}

// Remove drops every line of the product; the cart API addresses lines by
// product id only.
func (b remoteBackend) Remove(ctx context.Context, productID string, _ []string) error {
	return b.api.RemoveItem(ctx, productID)
}

func (b remoteBackend) UpdateQuantity(ctx context.Context, productID string, priceOptionIDs []string, quantity int) error {
	if quantity <= 0 {
		return b.api.RemoveItem(ctx, productID)
	}
	return b.api.UpdateQuantity(ctx, productID, priceOptionIDs, quantity)
}

func (b remoteBackend) Clear(ctx context.Context) error {
	return b.api.Clear(ctx)
}

func (b remoteBackend) Lines(ctx context.Context) ([]domain.CartLine, error) {
	sc, err := b.api.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return sc.Lines(), nil
}
