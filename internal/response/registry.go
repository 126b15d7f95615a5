package response

import (
	"sync"
	"time"
)

// BlockRegistry owns the set of currently blocked entities. At most one
// entry exists per entity at any time.
type BlockRegistry struct {
	mu      sync.RWMutex
	entries map[string]BlockEntry
}

// NewBlockRegistry creates an empty registry.
func NewBlockRegistry() *BlockRegistry {
	return &BlockRegistry{entries: make(map[string]BlockEntry)}
}

// Get returns the entry for entity, if present.
func (r *BlockRegistry) Get(entity string) (BlockEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[entity]
	return e, ok
}

// Add inserts an entry. Returns false if the entity is already blocked; the
// existing entry is left untouched.
func (r *BlockRegistry) Add(entry BlockEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[entry.Entity]; exists {
		return false
	}
	r.entries[entry.Entity] = entry
	return true
}

// Remove deletes the entry for entity, returning it if it existed.
func (r *BlockRegistry) Remove(entity string) (BlockEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[entity]
	if ok {
		delete(r.entries, entity)
	}
	return e, ok
}

// Len returns the number of active blocks.
func (r *BlockRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Entries returns a snapshot of all active blocks.
func (r *BlockRegistry) Entries() []BlockEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]BlockEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Entities returns the blocked entity identifiers.
func (r *BlockRegistry) Entities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for entity := range r.entries {
		out = append(out, entity)
	}
	return out
}

// ExpiredAt returns the entities whose block age exceeds timeout at the
// given instant. Expiry is strict: an entry exactly at the timeout is kept.
func (r *BlockRegistry) ExpiredAt(now time.Time, timeout time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var expired []string
	for entity, e := range r.entries {
		if now.Sub(e.BlockedAt) > timeout {
			expired = append(expired, entity)
		}
	}
	return expired
}
