package storage

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore keeps values in process memory. Useful for tests and for
// single-instance deployments that accept losing guest carts on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	values   map[string]string
	watchers map[string][]chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string]string),
		watchers: make(map[string][]chan struct{}),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()

	s.notify(key)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()

	s.notify(key)
	return nil
}

// Update runs fn and stores its result under the store lock.
func (s *MemoryStore) Update(_ context.Context, key string, fn func(current string, found bool) (string, error)) error {
	s.mu.Lock()
	current, found := s.values[key]
	next, err := fn(current, found)
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, ErrSkipWrite) {
			return nil
		}
		return err
	}
	s.values[key] = next
	s.mu.Unlock()

	s.notify(key)
	return nil
}

// Watch calls fn after every write to key until ctx is cancelled.
func (s *MemoryStore) Watch(ctx context.Context, key string, fn func()) error {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	s.watchers[key] = append(s.watchers[key], ch)
	s.mu.Unlock()

	defer s.unwatch(key, ch)

	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *MemoryStore) notify(key string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.watchers[key] {
		// coalesce: a pending signal already covers this write
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *MemoryStore) unwatch(key string, ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.watchers[key]
	for i, c := range list {
		if c == ch {
			s.watchers[key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(s.watchers[key]) == 0 {
		delete(s.watchers, key)
	}
}
