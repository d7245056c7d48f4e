// Package cart is the single cart surface for the storefront. It hides whether
// the guest cart or the server cart is authoritative; the choice is made on
// every call from the current token.
package cart

import (
	"context"
	"errors"
	"sync"

	"github.com/scentara/storefront-cart/internal/auth"
	"github.com/scentara/storefront-cart/internal/domain"
	"github.com/scentara/storefront-cart/internal/logger"
	"github.com/scentara/storefront-cart/internal/reconcile"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrInvalidQuantity = errors.New("quantity must be positive")

// CatalogSource provides the product snapshot used to resolve display fields.
type CatalogSource interface {
	Snapshot(ctx context.Context) (*domain.Catalog, error)
}

type Reconciler interface {
	Sync(ctx context.Context, sessionID string, local reconcile.LocalCart, remote reconcile.RemoteCart) (reconcile.State, error)
}

// View is a derived cart with its totals.
type View struct {
	Items      []domain.CartItem `json:"items"`
	TotalItems int               `json:"totalItems"`
	TotalPrice decimal.Decimal   `json:"totalPrice"`
	Currency   string            `json:"currency"`
}

func (v View) FormattedTotal() string {
	return domain.FormatMoney(v.TotalPrice, v.Currency)
}

type Service struct {
	local      LocalStore
	remote     RemoteCart
	catalog    CatalogSource
	tokens     auth.TokenSource
	reconciler Reconciler
	currency   string
	log        *zap.Logger

	mu      sync.Mutex
	open    bool
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*Service)

func WithReconciler(r Reconciler) Option {
	return func(s *Service) { s.reconciler = r }
}

func WithCurrency(currency string) Option {
	return func(s *Service) { s.currency = currency }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

func NewService(local LocalStore, remote RemoteCart, catalog CatalogSource, tokens auth.TokenSource, opts ...Option) *Service {
	s := &Service{
		local:    local,
		remote:   remote,
		catalog:  catalog,
		tokens:   tokens,
		currency: "USD",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrNop(s.log)
	return s
}

// Backend returns the authoritative source for the current token. For an
// authenticated caller it first lets the reconciler migrate the guest cart;
// a failed migration is logged and does not block the call.
func (s *Service) Backend(ctx context.Context) Backend {
	token := s.tokens.Token()
	if token == "" {
		return localBackend{store: s.local}
	}

	if s.reconciler != nil {
		sessionID := auth.SessionID(token)
		if state, err := s.reconciler.Sync(ctx, sessionID, s.local, s.remote); err != nil {
			logger.WithTrace(ctx, s.log).Debug("guest cart not migrated",
				zap.String("session_id", sessionID),
				zap.Stringer("state", state),
				zap.Error(err))
		}
	}
	return remoteBackend{api: s.remote}
}

func (s *Service) Items(ctx context.Context) ([]domain.CartItem, error) {
	lines, err := s.Backend(ctx).Lines(ctx)
	if err != nil {
		return nil, err
	}
	return deriveItems(lines, s.snapshot(ctx), s.currency), nil
}

// View derives the items and totals from a single read of the backend.
func (s *Service) View(ctx context.Context) (View, error) {
	items, err := s.Items(ctx)
	if err != nil {
		return View{}, err
	}
	return View{
		Items:      items,
		TotalItems: totalItems(items),
		TotalPrice: totalPrice(items),
		Currency:   s.currency,
	}, nil
}

func (s *Service) TotalItems(ctx context.Context) (int, error) {
	items, err := s.Items(ctx)
	if err != nil {
		return 0, err
	}
	return totalItems(items), nil
}

func (s *Service) TotalPrice(ctx context.Context) (decimal.Decimal, error) {
	items, err := s.Items(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return totalPrice(items), nil
}

func (s *Service) AddToCart(ctx context.Context, productID string, priceOptionIDs []string, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	return s.Backend(ctx).Add(ctx, productID, priceOptionIDs, quantity)
}

func (s *Service) RemoveItem(ctx context.Context, productID string, priceOptionIDs []string) error {
	return s.Backend(ctx).Remove(ctx, productID, priceOptionIDs)
}

// UpdateQuantity sets the line quantity. Zero or less removes the line.
func (s *Service) UpdateQuantity(ctx context.Context, productID string, priceOptionIDs []string, quantity int) error {
	return s.Backend(ctx).UpdateQuantity(ctx, productID, priceOptionIDs, quantity)
}

func (s *Service) ClearCart(ctx context.Context) error {
	return s.Backend(ctx).Clear(ctx)
}

func (s *Service) OpenCart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
}

func (s *Service) CloseCart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
}

func (s *Service) ToggleCart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = !s.open
}

func (s *Service) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

type changeNotifier interface {
	OnExternalChange(ctx context.Context, fn func())
}

// Subscribe calls fn whenever the guest cart is written, by this client or
// another one sharing the backend. It is a no-op when the local store cannot
// observe writes. The subscription ends when ctx is done or on Close.
func (s *Service) Subscribe(ctx context.Context, fn func()) {
	n, ok := s.local.(changeNotifier)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancels = append(s.cancels, cancel)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		n.OnExternalChange(ctx, fn)
	}()
}

// Close stops all subscriptions and waits for them to return.
func (s *Service) Close() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.wg.Wait()
}

func (s *Service) snapshot(ctx context.Context) *domain.Catalog {
	if s.catalog == nil {
		return nil
	}
	c, err := s.catalog.Snapshot(ctx)
	if err != nil {
		logger.WithTrace(ctx, s.log).Warn("catalog unavailable, showing placeholders", zap.Error(err))
		return nil
	}
	return c
}
