package data

import (
	"sync"
)

type nameLock struct {
	mu   sync.Mutex
	refs int
}

// NameLocker hands out one mutex per data address. Entries are reference
// counted and removed when nobody holds or waits on them.
type NameLocker struct {
	mu    sync.Mutex
	locks map[string]*nameLock
}

// NewNameLocker ...
func NewNameLocker() *NameLocker {
	return &NameLocker{
		locks: make(map[string]*nameLock),
	}
}

// Lock blocks until key is free.
func (h *NameLocker) Lock(key []byte) {
	h.mu.Lock()
	l := h.locks[string(key)]
	if l == nil {
		l = new(nameLock)
		h.locks[string(key)] = l
	}
	l.refs++
	h.mu.Unlock()

	l.mu.Lock()
}

// Unlock releases key. It panics if key is not locked.
func (h *NameLocker) Unlock(key []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	l := h.locks[string(key)]
	l.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(h.locks, string(key))
	}
}

// TryLock locks key only if nobody else holds or waits for it.
func (h *NameLocker) TryLock(key []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, found := h.locks[string(key)]; found {
		return false
	}

	l := new(nameLock)
	h.locks[string(key)] = l
	l.refs++
	l.mu.Lock()

	return true
}

// Len returns the number of addresses currently locked or awaited.
func (h *NameLocker) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.locks)
}
