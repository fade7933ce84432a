package keyedmutex

import (
	"sync"

	appErrors "github.com/ecomstack/gateway-api/pkg/errors"
)

// KeyedMutex provides non-blocking mutual exclusion per string key. A
// contended acquisition fails immediately instead of waiting; retry policy
// belongs to the caller.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*handle
}

// handle identifies one acquisition. Release only evicts the table entry when
// it still points at the caller's own handle, so a release can never remove a
// lock another caller has since acquired for the same key. The key field
// keeps the type non-zero-sized; allocations of empty structs may share an
// address, which would void the identity check.
type handle struct {
	key string
}

// New constructs an empty KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*handle)}
}

// WithLock runs fn while holding the exclusive lock for key. If the key is
// already held it returns ErrLockContention without blocking. The registry
// mutex guards only the acquire/release bookkeeping; fn runs outside it.
func (m *KeyedMutex) WithLock(key string, fn func() error) error {
	h := &handle{key: key}

	m.mu.Lock()
	if _, held := m.locks[key]; held {
		m.mu.Unlock()
		return appErrors.Clone(appErrors.ErrLockContention, "")
	}
	m.locks[key] = h
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if cur, ok := m.locks[key]; ok && cur == h {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}()

	return fn()
}

// Locked reports whether key currently has a holder.
func (m *KeyedMutex) Locked(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.locks[key]
	return held
}

// Len returns the number of keys currently held.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
