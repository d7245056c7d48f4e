package localcart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/scentara/storefront-cart/internal/domain"
	"github.com/scentara/storefront-cart/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingKV fails every call after being armed.
type failingKV struct {
	*storage.MemoryStore
	m   sync.RWMutex
	err error
}

func (f *failingKV) fail(err error) {
	f.m.Lock()
	defer f.m.Unlock()
	f.err = err
}

func (f *failingKV) Get(ctx context.Context, key string) (string, error) {
	f.m.RLock()
	defer f.m.RUnlock()
	if f.err != nil {
		return "", f.err
	}
	return f.MemoryStore.Get(ctx, key)
}

func (f *failingKV) Set(ctx context.Context, key, value string) error {
	f.m.RLock()
	defer f.m.RUnlock()
	if f.err != nil {
		return f.err
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func (f *failingKV) Delete(ctx context.Context, key string) error {
	f.m.RLock()
	defer f.m.RUnlock()
	if f.err != nil {
		return f.err
	}
	return f.MemoryStore.Delete(ctx, key)
}

func (f *failingKV) Update(ctx context.Context, key string, fn func(string, bool) (string, error)) error {
	f.m.RLock()
	defer f.m.RUnlock()
	if f.err != nil {
		return f.err
	}
	return f.MemoryStore.Update(ctx, key, fn)
}

// slowKV widens the read-modify-write window and offers no atomic update,
// so only the shared locks keep writers apart.
type slowKV struct {
	kv storage.KV
}

func (s slowKV) Get(ctx context.Context, key string) (string, error) {
	time.Sleep(2 * time.Millisecond)
	return s.kv.Get(ctx, key)
}

func (s slowKV) Set(ctx context.Context, key, value string) error {
	return s.kv.Set(ctx, key, value)
}

func (s slowKV) Delete(ctx context.Context, key string) error {
	return s.kv.Delete(ctx, key)
}

func newTestStore(t *testing.T) (*Store, *storage.MemoryStore, *fakeClock) {
	t.Helper()
	kv := storage.NewMemoryStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(kv, WithClock(clock.Now)), kv, clock
}

func line(productID string, qty int, priceOptionIDs ...string) domain.LocalCartLine {
	return domain.LocalCartLine{ProductID: productID, PriceOptionIDs: priceOptionIDs, Quantity: qty}
}

func TestSave_NewLine(t *testing.T) {
	store, _, clock := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, line("P1", 1, "V1"))

	lines := store.List(ctx)
	require.Len(t, lines, 1)
	assert.Equal(t, "P1", lines[0].ProductID)
	assert.Equal(t, []string{"V1"}, lines[0].PriceOptionIDs)
	assert.Equal(t, 1, lines[0].Quantity)
	assert.Equal(t, clock.Now().UnixMilli(), lines[0].Timestamp)
}

func TestSave_SameKeyIncrementsQuantity(t *testing.T) {
	store, _, clock := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, line("P1", 1, "V1"))
	clock.Advance(time.Minute)
	store.Save(ctx, line("P1", 1, "V1"))

	lines := store.List(ctx)
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, clock.Now().UnixMilli(), lines[0].Timestamp)
}

func TestSave_CompositeKeyIsOrderInsensitive(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	quantities := []int{1, 3, 2, 5}
	for i, q := range quantities {
		if i%2 == 0 {
			store.Save(ctx, line("P1", q, "V1", "V2"))
		} else {
			store.Save(ctx, line("P1", q, "V2", "V1"))
		}
	}

	lines := store.List(ctx)
	require.Len(t, lines, 1)
	assert.Equal(t, 11, lines[0].Quantity)
}

func TestSave_DifferentPriceOptionsAreSeparateLines(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, line("P1", 1, "V1"))
	store.Save(ctx, line("P1", 1, "V2"))
	store.Save(ctx, line("P2", 1, "V1"))

	assert.Len(t, store.List(ctx), 3)
}

func TestSave_IgnoresNonPositiveQuantity(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, line("P1", 0, "V1"))

	assert.Empty(t, store.List(ctx))
}

func TestList_SweepsExpiredLines(t *testing.T) {
	store, kv, clock := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, line("P1", 1, "V1"))
	clock.Advance(6 * 24 * time.Hour)
	store.Save(ctx, line("P2", 1, "V1"))
	clock.Advance(2 * 24 * time.Hour)

	lines := store.List(ctx)
	require.Len(t, lines, 1)
	assert.Equal(t, "P2", lines[0].ProductID)

	raw, err := kv.Get(ctx, DefaultKey)
	require.NoError(t, err)
	assert.NotContains(t, raw, `"P1"`)
	assert.Contains(t, raw, `"P2"`)
}

func TestList_ExpiredOnArrival(t *testing.T) {
	store, kv, clock := newTestStore(t)
	ctx := context.Background()

	stale := line("P1", 1, "V1")
	stale.Timestamp = clock.Now().Add(-8 * 24 * time.Hour).UnixMilli()
	store.Save(ctx, stale)

	assert.Empty(t, store.List(ctx))

	raw, err := kv.Get(ctx, DefaultKey)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, raw)
}

func TestList_RefreshedLineSurvives(t *testing.T) {
	store, _, clock := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, line("P1", 1, "V1"))
	clock.Advance(5 * 24 * time.Hour)
	store.UpdateQuantity(ctx, "P1", []string{"V1"}, 4)
	clock.Advance(5 * 24 * time.Hour)

	lines := store.List(ctx)
	require.Len(t, lines, 1)
	assert.Equal(t, 4, lines[0].Quantity)
}

func TestList_MalformedPayloadIsEmpty(t *testing.T) {
	store, kv, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, DefaultKey, `{"productId": broken`))

	assert.NotPanics(t, func() {
		assert.Empty(t, store.List(ctx))
	})

	// the store recovers on the next write
	store.Save(ctx, line("P1", 1, "V1"))
	assert.Len(t, store.List(ctx), 1)
}

func TestRemove(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, line("P1", 1, "V1"))
	store.Save(ctx, line("P2", 1, "V1"))

	store.Remove(ctx, "P1", []string{"V1"})

	lines := store.List(ctx)
	require.Len(t, lines, 1)
	assert.Equal(t, "P2", lines[0].ProductID)
}

func TestRemove_AbsentIsNoop(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, line("P1", 1, "V1"))
	store.Remove(ctx, "P1", []string{"V2"})
	store.Remove(ctx, "P9", nil)

	assert.Len(t, store.List(ctx), 1)
}

func TestUpdateQuantity(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, line("P1", 1, "V1"))
	store.UpdateQuantity(ctx, "P1", []string{"V1"}, 7)

	lines := store.List(ctx)
	require.Len(t, lines, 1)
	assert.Equal(t, 7, lines[0].Quantity)
}

func TestUpdateQuantity_AbsentIsNoop(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	store.UpdateQuantity(ctx, "P1", []string{"V1"}, 3)

	assert.Empty(t, store.List(ctx))
}

func TestUpdateQuantity_ZeroEqualsRemove(t *testing.T) {
	ctx := context.Background()
	seed := func(s *Store) {
		s.Save(ctx, line("P1", 2, "V1"))
		s.Save(ctx, line("P2", 1, "V1"))
	}

	updated, updatedKV, _ := newTestStore(t)
	seed(updated)
	updated.UpdateQuantity(ctx, "P1", []string{"V1"}, 0)

	removed, removedKV, _ := newTestStore(t)
	seed(removed)
	removed.Remove(ctx, "P1", []string{"V1"})

	a, err := updatedKV.Get(ctx, DefaultKey)
	require.NoError(t, err)
	b, err := removedKV.Get(ctx, DefaultKey)
	require.NoError(t, err)
	assert.JSONEq(t, b, a)
	assert.Equal(t, removed.List(ctx), updated.List(ctx))
}

func TestClear(t *testing.T) {
	store, kv, _ := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, line("P1", 1, "V1"))
	store.Clear(ctx)

	assert.Empty(t, store.List(ctx))
	_, err := kv.Get(ctx, DefaultKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStorageFailure_FailsOpen(t *testing.T) {
	kv := &failingKV{MemoryStore: storage.NewMemoryStore()}
	store := NewStore(kv)
	ctx := context.Background()

	store.Save(ctx, line("P1", 1, "V1"))
	kv.fail(errors.New("quota exceeded"))

	assert.NotPanics(t, func() {
		assert.Empty(t, store.List(ctx))
		store.Save(ctx, line("P2", 1, "V1"))
		store.UpdateQuantity(ctx, "P1", []string{"V1"}, 3)
		store.Remove(ctx, "P1", []string{"V1"})
		store.Clear(ctx)
	})

	kv.fail(nil)
	lines := store.List(ctx)
	require.Len(t, lines, 1)
	assert.Equal(t, "P1", lines[0].ProductID)
	assert.Equal(t, 1, lines[0].Quantity)
}

func TestGuestKeysAreIsolated(t *testing.T) {
	kv := storage.NewMemoryStore()
	ctx := context.Background()
	alice := NewStore(kv, WithKey(GuestKey("alice")))
	bob := NewStore(kv, WithKey(GuestKey("bob")))

	alice.Save(ctx, line("P1", 1, "V1"))

	assert.Len(t, alice.List(ctx), 1)
	assert.Empty(t, bob.List(ctx))
}

func TestOnExternalChange(t *testing.T) {
	kv := storage.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tab1 := NewStore(kv)
	tab2 := NewStore(kv)

	changed := make(chan struct{}, 1)
	go tab1.OnExternalChange(ctx, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	require.Eventually(t, func() bool {
		tab2.Save(context.Background(), line("P1", 1, "V1"))
		select {
		case <-changed:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

type plainKV struct{ storage.KV }

func TestOnExternalChange_UnsupportedBackendReturns(t *testing.T) {
	store := NewStore(plainKV{storage.NewMemoryStore()})

	done := make(chan struct{})
	go func() {
		store.OnExternalChange(context.Background(), func() {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnExternalChange blocked on a backend without change notifications")
	}
}

func saveConcurrently(stores func(i int) *Store, n int) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stores(i).Save(context.Background(), line(fmt.Sprintf("P%d", i), 1, "V1"))
		}(i)
	}
	wg.Wait()
}

func TestSave_ConcurrentStoresSharingLocksKeepEveryLine(t *testing.T) {
	kv := slowKV{kv: storage.NewMemoryStore()}
	locks := NewLocks()
	key := GuestKey("g1")

	saveConcurrently(func(int) *Store {
		return NewStore(kv, WithKey(key), WithLocks(locks))
	}, 20)

	assert.Len(t, NewStore(kv, WithKey(key)).List(context.Background()), 20)
	assert.Zero(t, locks.len(), "released locks must not accumulate")
}

func TestSave_ConcurrentStoresOnAtomicBackendKeepEveryLine(t *testing.T) {
	kv := storage.NewMemoryStore()
	key := GuestKey("g1")

	// No shared locks: the backend update alone must serialize the writers.
	saveConcurrently(func(int) *Store {
		return NewStore(kv, WithKey(key))
	}, 20)

	assert.Len(t, NewStore(kv, WithKey(key)).List(context.Background()), 20)
}

func TestSave_ConcurrentIncrementsOfOneLine(t *testing.T) {
	kv := slowKV{kv: storage.NewMemoryStore()}
	locks := NewLocks()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			NewStore(kv, WithLocks(locks)).Save(ctx, line("P1", 2, "V1"))
		}()
	}
	wg.Wait()

	lines := NewStore(kv).List(ctx)
	require.Len(t, lines, 1)
	assert.Equal(t, 20, lines[0].Quantity)
}

func TestSave_DoesNotMergeIntoExpiredLine(t *testing.T) {
	store, kv, clock := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, line("P1", 5, "V1"))
	clock.Advance(8 * 24 * time.Hour)
	store.Save(ctx, line("P1", 1, "V1"))

	lines := store.List(ctx)
	require.Len(t, lines, 1)
	assert.Equal(t, 1, lines[0].Quantity)
	assert.Equal(t, clock.Now().UnixMilli(), lines[0].Timestamp)

	raw, err := kv.Get(ctx, DefaultKey)
	require.NoError(t, err)
	assert.Contains(t, raw, `"quantity":1`)
}

func TestSave_SweepsExpiredLinesOfOtherProducts(t *testing.T) {
	store, kv, clock := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, line("P1", 1, "V1"))
	clock.Advance(8 * 24 * time.Hour)
	store.Save(ctx, line("P2", 1, "V1"))

	raw, err := kv.Get(ctx, DefaultKey)
	require.NoError(t, err)
	assert.NotContains(t, raw, `"P1"`)
}

func TestRemoveProduct_RemovesEveryVariant(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, line("P1", 1, "V1"))
	store.Save(ctx, line("P1", 2, "V2"))
	store.Save(ctx, line("P2", 1, "V1"))

	store.RemoveProduct(ctx, "P1")

	lines := store.List(ctx)
	require.Len(t, lines, 1)
	assert.Equal(t, "P2", lines[0].ProductID)
}
