package firewall

import (
	"context"
	"sync"
)

// MemoryFirewall is an in-process Firewall for tests and dry-run deployments.
// It honors the same duplicate/not-found contract as a real enforcement point.
type MemoryFirewall struct {
	mu    sync.Mutex
	rules map[string]string // entity → reason
}

// NewMemoryFirewall creates an empty in-memory firewall.
func NewMemoryFirewall() *MemoryFirewall {
	return &MemoryFirewall{rules: make(map[string]string)}
}

func (f *MemoryFirewall) Block(ctx context.Context, entity, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.rules[entity]; exists {
		return ErrDuplicateRule
	}
	f.rules[entity] = reason
	return nil
}

func (f *MemoryFirewall) Unblock(ctx context.Context, entity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.rules[entity]; !exists {
		return ErrNotFound
	}
	delete(f.rules, entity)
	return nil
}

// Blocked reports whether a rule exists for entity.
func (f *MemoryFirewall) Blocked(entity string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, exists := f.rules[entity]
	return exists
}

// RuleCount returns the number of active rules.
func (f *MemoryFirewall) RuleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rules)
}
