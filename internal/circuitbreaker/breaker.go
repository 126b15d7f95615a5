// Package circuitbreaker provides a per-source circuit breaker with
// closed → open → half-open state transitions. The monitor wraps each
// telemetry source with one so a flapping backend cannot stall cycles.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Do when the circuit rejects the call.
var ErrOpen = errors.New("circuit open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: calls flow through
	StateOpen                  // Tripped: calls are rejected
	StateHalfOpen              // Probing: one call allowed to test recovery
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var cbStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "netsentry",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by source, from-state, and to-state.",
}, []string{"source", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(cbStateTransitions)
}

// circuit tracks one source's state.
type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker is a per-source circuit breaker. It counts consecutive
// failures per source and trips open at the threshold. After
// openDuration the circuit moves to half-open and allows one probe.
type Breaker struct {
	mu           sync.Mutex
	circuits     map[string]*circuit
	threshold    int
	openDuration time.Duration
	now          func() time.Time
	onTransition func(source string, from, to State)
}

// New creates a circuit breaker that opens after threshold consecutive
// failures and stays open for openDuration before probing.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		circuits:     make(map[string]*circuit),
		threshold:    threshold,
		openDuration: openDuration,
		now:          time.Now,
	}
}

// OnTransition sets a callback invoked on state changes.
func (b *Breaker) OnTransition(fn func(source string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Do runs fn if the circuit for source allows it, recording the outcome.
// Returns ErrOpen without calling fn when the circuit is open.
func (b *Breaker) Do(source string, fn func() error) error {
	if !b.Allow(source) {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure(source)
		return err
	}
	b.RecordSuccess(source)
	return nil
}

// Allow reports whether a call to source should proceed. An open circuit
// whose openDuration has elapsed transitions to half-open and admits one
// probe.
func (b *Breaker) Allow(source string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[source]
	if !ok {
		return true // No circuit = closed
	}

	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(c.lastFailure) >= b.openDuration {
			b.transition(c, source, StateHalfOpen)
			return true // Allow one probe
		}
		return false
	case StateHalfOpen:
		return false // Probe already in flight
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(source string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[source]
	if !ok {
		return
	}
	if c.state == StateHalfOpen {
		b.transition(c, source, StateClosed)
	}
	c.failures = 0
}

// RecordFailure counts a failed call. Consecutive failures at the
// threshold trip the circuit; a failed half-open probe reopens it.
func (b *Breaker) RecordFailure(source string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[source]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[source] = c
	}

	c.failures++
	c.lastFailure = b.now()

	if c.state == StateHalfOpen {
		b.transition(c, source, StateOpen)
		return
	}
	if c.state == StateClosed && c.failures >= b.threshold {
		b.transition(c, source, StateOpen)
	}
}

// State returns the current state for a source. Unknown sources are closed.
func (b *Breaker) State(source string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[source]
	if !ok {
		return StateClosed
	}
	return c.state
}

// transition changes state and fires the callback if set.
// Caller must hold b.mu.
func (b *Breaker) transition(c *circuit, source string, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	cbStateTransitions.WithLabelValues(source, from.String(), to.String()).Inc()
	if b.onTransition != nil {
		fn := b.onTransition
		go fn(source, from, to)
	}
}
