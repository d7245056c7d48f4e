package localcart

import "sync"

// Locks serializes writers of the same cart key within one process. Stores
// built per request for the same backend must share a single Locks.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free and returns the function releasing it.
// Entries are dropped once nobody holds or waits for them.
func (l *Locks) Lock(key string) func() {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()

		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *Locks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
