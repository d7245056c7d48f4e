package storage

import (
	"context"
	"errors"
)

// KV is the durable key/value storage that guest carts live in. It plays the
// role browser local storage plays for a single device.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Watcher is implemented by backends that can report writes made by other
// clients (other tabs, other BFF instances). Watch blocks until ctx is done.
type Watcher interface {
	Watch(ctx context.Context, key string, fn func()) error
}

// Updater is implemented by backends that can apply a read-modify-write to
// one key atomically, across processes where the backend allows it. fn gets
// the current value (found is false when the key is absent) and returns the
// value to store, or ErrSkipWrite to leave the key untouched.
type Updater interface {
	Update(ctx context.Context, key string, fn func(current string, found bool) (string, error)) error
}

var (
	ErrNotFound = errors.New("key not found")

	// ErrSkipWrite aborts an Update without writing. Update returns nil.
	ErrSkipWrite = errors.New("skip write")

	// ErrConflict means an Update kept losing races and gave up.
	ErrConflict = errors.New("concurrent update conflict")
)

// maxUpdateAttempts bounds optimistic retries. Every lost attempt means
// another writer committed, so the loop always makes progress.
const maxUpdateAttempts = 50
