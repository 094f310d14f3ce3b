package keylock

import "sync"

// KeyLock serializes work per string key. It backs the at-most-one-concurrent-
// generation guarantee for a given request fingerprint: the winner generates,
// losers block and then find the finished entry in the cache.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty KeyLock.
func New() *KeyLock {
	return &KeyLock{locks: make(map[string]*lockEntry)}
}

// Lock acquires the lock for key and returns the matching unlock function.
// Entries are reference counted and removed once the last holder releases.
func (k *KeyLock) Lock(key string) (unlock func()) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
