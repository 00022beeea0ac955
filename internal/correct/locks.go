package correct

import "sync"

// FieldLocks is a lazily-populated arena of per-field mutexes. Writes to
// one field's history serialize; unrelated fields proceed concurrently.
type FieldLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFieldLocks creates an empty lock arena.
func NewFieldLocks() *FieldLocks {
	return &FieldLocks{locks: make(map[string]*sync.Mutex)}
}

// Get returns the mutex for the given field, creating it on first use.
// Locks are never removed; the arena is bounded by the field catalog.
func (fl *FieldLocks) Get(fieldID string) *sync.Mutex {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if l, ok := fl.locks[fieldID]; ok {
		return l
	}
	l := &sync.Mutex{}
	fl.locks[fieldID] = l
	return l
}
