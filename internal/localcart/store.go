// Package localcart persists guest cart lines in a key/value backend.
//
// The store is fail-open: storage errors are logged and degrade to an empty
// cart on read and a no-op on write, so callers never have to handle them.
package localcart

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/scentara/storefront-cart/internal/domain"
	"github.com/scentara/storefront-cart/internal/logger"
	"github.com/scentara/storefront-cart/internal/storage"
	"go.uber.org/zap"
)

const (
	// DefaultKey is the storage key for a single-device deployment.
	DefaultKey = "guest_cart"

	// DefaultRetention is how long a line survives after its last write.
	DefaultRetention = 7 * 24 * time.Hour
)

// GuestKey is the storage key of a guest's cart when many guests share a backend.
func GuestKey(guestID string) string {
	return "cart:guest:" + guestID
}

type Store struct {
	kv        storage.KV
	key       string
	retention time.Duration
	locks     *Locks
	now       func() time.Time
	log       *zap.Logger
}

type Option func(*Store)

func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// WithLocks shares the per-key write locks with other stores on the same
// backend.
func WithLocks(l *Locks) Option {
	return func(s *Store) { s.locks = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = logger.OrNop(l) }
}

// NewStore creates a store over kv. Writes are read-modify-write cycles: they
// run under the key's lock and, when kv is a storage.Updater, as one atomic
// backend update so that other processes cannot interleave either.
func NewStore(kv storage.KV, opts ...Option) *Store {
	s := &Store{
		kv:        kv,
		key:       DefaultKey,
		retention: DefaultRetention,
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locks == nil {
		s.locks = NewLocks()
	}
	return s
}

// Save adds line to the cart. A line with the same product and price options
// has its quantity incremented and its timestamp refreshed instead. A new
// line keeps a caller-supplied timestamp; zero means now. Expired lines are
// dropped first, so they are never merged into.
func (s *Store) Save(ctx context.Context, line domain.LocalCartLine) {
	if line.Quantity <= 0 {
		return
	}

	s.mutate(ctx, func(lines []domain.LocalCartLine, now int64) ([]domain.LocalCartLine, bool) {
		for i := range lines {
			if lines[i].Key() == line.Key() {
				lines[i].Quantity += line.Quantity
				lines[i].Timestamp = now
				return lines, true
			}
		}

		added := line
		added.PriceOptionIDs = slices.Clone(line.PriceOptionIDs)
		if added.Timestamp == 0 {
			added.Timestamp = now
		}
		return append(lines, added), true
	})
}

// List returns the lines written within the retention window. Expired lines
// are swept from storage as a side effect.
func (s *Store) List(ctx context.Context) []domain.LocalCartLine {
	return s.mutate(ctx, func(lines []domain.LocalCartLine, _ int64) ([]domain.LocalCartLine, bool) {
		return lines, false
	})
}

// Remove deletes the matching line; it is a no-op when there is none.
func (s *Store) Remove(ctx context.Context, productID string, priceOptionIDs []string) {
	s.mutate(ctx, func(lines []domain.LocalCartLine, _ int64) ([]domain.LocalCartLine, bool) {
		return removeMatching(lines, func(l domain.LocalCartLine) bool {
			return l.Matches(productID, priceOptionIDs)
		})
	})
}

// RemoveProduct deletes every line of productID, whatever its price options.
func (s *Store) RemoveProduct(ctx context.Context, productID string) {
	s.mutate(ctx, func(lines []domain.LocalCartLine, _ int64) ([]domain.LocalCartLine, bool) {
		return removeMatching(lines, func(l domain.LocalCartLine) bool {
			return l.ProductID == productID
		})
	})
}

// UpdateQuantity overwrites the quantity of the matching line. A quantity of
// zero or less removes the line.
func (s *Store) UpdateQuantity(ctx context.Context, productID string, priceOptionIDs []string, quantity int) {
	if quantity <= 0 {
		s.Remove(ctx, productID, priceOptionIDs)
		return
	}

	s.mutate(ctx, func(lines []domain.LocalCartLine, now int64) ([]domain.LocalCartLine, bool) {
		for i := range lines {
			if lines[i].Matches(productID, priceOptionIDs) {
				lines[i].Quantity = quantity
				lines[i].Timestamp = now
				return lines, true
			}
		}
		return lines, false
	})
}

func (s *Store) Clear(ctx context.Context) {
	unlock := s.locks.Lock(s.key)
	defer unlock()

	if err := s.kv.Delete(ctx, s.key); err != nil {
		s.log.Warn("failed to clear guest cart", zap.String("key", s.key), zap.Error(err))
	}
}

// OnExternalChange calls fn whenever the cart key is written through the
// backend, including writes by other clients sharing it. It blocks until
// ctx is done and returns immediately when the backend cannot report changes.
func (s *Store) OnExternalChange(ctx context.Context, fn func()) {
	w, ok := s.kv.(storage.Watcher)
	if !ok {
		return
	}
	err := w.Watch(ctx, s.key, fn)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.log.Warn("guest cart watch stopped", zap.String("key", s.key), zap.Error(err))
	}
}

// mutateFunc edits the live lines in place or returns a new slice, and
// reports whether anything changed. It may run more than once when the
// backend retries a conflicting update.
type mutateFunc func(lines []domain.LocalCartLine, now int64) ([]domain.LocalCartLine, bool)

// mutate sweeps expired lines, applies fn, and persists the result when fn
// changed something or lines were swept. It returns the resulting lines.
func (s *Store) mutate(ctx context.Context, fn mutateFunc) []domain.LocalCartLine {
	unlock := s.locks.Lock(s.key)
	defer unlock()

	apply := func(lines []domain.LocalCartLine) ([]domain.LocalCartLine, bool) {
		now := s.now()
		live := s.sweep(lines, now)
		next, changed := fn(live, now.UnixMilli())
		return next, changed || len(live) != len(lines)
	}

	u, ok := s.kv.(storage.Updater)
	if !ok {
		next, dirty := apply(s.read(ctx))
		if dirty {
			s.write(ctx, next)
		}
		return next
	}

	var result []domain.LocalCartLine
	err := u.Update(ctx, s.key, func(current string, found bool) (string, error) {
		var lines []domain.LocalCartLine
		if found {
			lines = s.decode(current)
		}
		next, dirty := apply(lines)
		result = next
		if !dirty {
			return "", storage.ErrSkipWrite
		}
		return encode(next)
	})
	if err != nil {
		s.log.Warn("failed to update guest cart", zap.String("key", s.key), zap.Error(err))
	}
	return result
}

// sweep returns the lines still inside the retention window.
func (s *Store) sweep(lines []domain.LocalCartLine, now time.Time) []domain.LocalCartLine {
	cutoff := now.Add(-s.retention)
	live := make([]domain.LocalCartLine, 0, len(lines))
	for _, l := range lines {
		if l.WrittenAt().Before(cutoff) {
			continue
		}
		live = append(live, l)
	}
	if expired := len(lines) - len(live); expired > 0 {
		s.log.Debug("swept expired guest cart lines",
			zap.String("key", s.key),
			zap.Int("expired", expired))
	}
	return live
}

func removeMatching(lines []domain.LocalCartLine, match func(domain.LocalCartLine) bool) ([]domain.LocalCartLine, bool) {
	n := len(lines)
	lines = slices.DeleteFunc(lines, match)
	return lines, len(lines) != n
}

func (s *Store) read(ctx context.Context) []domain.LocalCartLine {
	raw, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("failed to read guest cart", zap.String("key", s.key), zap.Error(err))
		}
		return nil
	}
	return s.decode(raw)
}

func (s *Store) decode(raw string) []domain.LocalCartLine {
	var lines []domain.LocalCartLine
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		s.log.Warn("discarding malformed guest cart", zap.String("key", s.key), zap.Error(err))
		return nil
	}
	return lines
}

func encode(lines []domain.LocalCartLine) (string, error) {
	if lines == nil {
		lines = []domain.LocalCartLine{}
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Store) write(ctx context.Context, lines []domain.LocalCartLine) {
	data, err := encode(lines)
	if err != nil {
		s.log.Warn("failed to encode guest cart", zap.String("key", s.key), zap.Error(err))
		return
	}
	if err := s.kv.Set(ctx, s.key, data); err != nil {
		s.log.Warn("failed to write guest cart", zap.String("key", s.key), zap.Error(err))
	}
}
