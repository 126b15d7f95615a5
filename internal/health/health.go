// Package health provides a registry of named subsystem health checkers
// plus the checkers the daemon registers: database connectivity and
// monitoring-cycle freshness.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Status represents the health of a single subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates a new health check registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named health checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs all registered checkers and returns the aggregate health
// status plus individual subsystem results.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(checkers))

	for i, nc := range checkers {
		statuses[i] = nc.check(ctx)
		if !statuses[i].Healthy {
			healthy = false
		}
	}

	return healthy, statuses
}

// Database returns a checker that pings the audit database.
func Database(db *sql.DB) Checker {
	return func(ctx context.Context) Status {
		if err := db.PingContext(ctx); err != nil {
			return Status{Name: "database", Healthy: false, Detail: err.Error()}
		}
		return Status{Name: "database", Healthy: true}
	}
}

// CycleSource exposes monitoring-loop progress for the freshness check.
type CycleSource interface {
	LastCycle() time.Time
	Interval() time.Duration
}

// staleFactor is how many intervals may pass without a completed cycle
// before the monitor is considered stuck.
const staleFactor = 3

// CycleFreshness returns a checker that reports unhealthy when the
// monitoring loop has not completed a cycle within three intervals.
// A loop that has not finished its first cycle yet is still healthy.
func CycleFreshness(src CycleSource, now func() time.Time) Checker {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) Status {
		last := src.LastCycle()
		if last.IsZero() {
			return Status{Name: "monitor", Healthy: true, Detail: "no cycle completed yet"}
		}
		age := now().Sub(last)
		if age > staleFactor*src.Interval() {
			return Status{
				Name:    "monitor",
				Healthy: false,
				Detail:  fmt.Sprintf("last cycle %s ago, interval %s", age.Round(time.Second), src.Interval()),
			}
		}
		return Status{Name: "monitor", Healthy: true}
	}
}
