package response

import (
	"sync"
	"time"
)

// rateLimitedSet tracks entities under traffic throttling. Entries are
// ephemeral: the sweep prunes anything older than the configured window.
type rateLimitedSet struct {
	mu      sync.RWMutex
	applied map[string]time.Time
}

func newRateLimitedSet() *rateLimitedSet {
	return &rateLimitedSet{applied: make(map[string]time.Time)}
}

func (s *rateLimitedSet) add(entity string, at time.Time) {
	s.mu.Lock()
	s.applied[entity] = at
	s.mu.Unlock()
}

func (s *rateLimitedSet) prune(now time.Time, window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for entity, at := range s.applied {
		if now.Sub(at) > window {
			delete(s.applied, entity)
		}
	}
}

func (s *rateLimitedSet) entities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.applied))
	for entity := range s.applied {
		out = append(out, entity)
	}
	return out
}
