package sqlstore

import "sync"

// holderMutex is a keyed mutex registry serializing storage operations per
// holder. Acquisition blocks until the key is free and never fails; there
// is no timeout, since both sides of any contention are expected to
// complete quickly. Entries are reference-counted and removed once the
// last holder releases, so the registry stays proportional to in-flight
// operations rather than to the holder population.
type holderMutex struct {
	mu      sync.Mutex
	entries map[string]*holderLock
}

type holderLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the mutex for |key| and returns its release closure.
// Callers must invoke the closure on every exit path, typically via defer
// at acquisition:
//
//	defer s.locks.lock(key)()
func (h *holderMutex) lock(key string) (unlock func()) {
	h.mu.Lock()
	if h.entries == nil {
		h.entries = make(map[string]*holderLock)
	}
	var l = h.entries[key]
	if l == nil {
		l = new(holderLock)
		h.entries[key] = l
	}
	l.refs++
	h.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		h.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(h.entries, key)
		}
		h.mu.Unlock()
	}
}
