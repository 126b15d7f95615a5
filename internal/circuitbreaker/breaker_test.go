package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// advance replaces the breaker clock with one we can move manually.
func advance(b *Breaker) func(d time.Duration) {
	base := time.Now()
	var mu sync.Mutex
	offset := time.Duration(0)
	b.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return base.Add(offset)
	}
	return func(d time.Duration) {
		mu.Lock()
		offset += d
		mu.Unlock()
	}
}

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b := New(3, time.Minute)
	if !b.Allow("influx") {
		t.Fatal("expected closed circuit to allow")
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := New(3, time.Minute)

	b.RecordFailure("influx")
	b.RecordFailure("influx")
	if !b.Allow("influx") {
		t.Fatal("should still allow before threshold")
	}

	b.RecordFailure("influx")
	if b.Allow("influx") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("influx") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("influx"))
	}
}

func TestBreaker_OpenToHalfOpenAfterDuration(t *testing.T) {
	b := New(2, time.Minute)
	tick := advance(b)

	b.RecordFailure("influx")
	b.RecordFailure("influx")
	if b.Allow("influx") {
		t.Fatal("should be open")
	}

	tick(61 * time.Second)

	if !b.Allow("influx") {
		t.Fatal("should allow probe in half-open")
	}
	if b.State("influx") != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State("influx"))
	}
	if b.Allow("influx") {
		t.Fatal("should reject second request in half-open")
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := New(2, time.Minute)
	tick := advance(b)

	b.RecordFailure("influx")
	b.RecordFailure("influx")
	tick(61 * time.Second)
	b.Allow("influx") // Transitions to half-open

	b.RecordSuccess("influx")
	if b.State("influx") != StateClosed {
		t.Fatalf("expected StateClosed after success, got %v", b.State("influx"))
	}
	if !b.Allow("influx") {
		t.Fatal("should allow after recovery")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(2, time.Minute)
	tick := advance(b)

	b.RecordFailure("influx")
	b.RecordFailure("influx")
	tick(61 * time.Second)
	b.Allow("influx") // Transitions to half-open

	b.RecordFailure("influx")
	if b.State("influx") != StateOpen {
		t.Fatalf("expected StateOpen after half-open failure, got %v", b.State("influx"))
	}
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b := New(3, time.Minute)

	b.RecordFailure("influx")
	b.RecordFailure("influx")
	b.RecordSuccess("influx")

	b.RecordFailure("influx")
	if !b.Allow("influx") {
		t.Fatal("should still be closed after reset")
	}
}

func TestBreaker_IndependentSources(t *testing.T) {
	b := New(2, time.Minute)

	b.RecordFailure("influx")
	b.RecordFailure("influx")

	if b.Allow("influx") {
		t.Fatal("influx should be open")
	}
	if !b.Allow("gcs") {
		t.Fatal("gcs should be closed")
	}
}

func TestBreaker_Do(t *testing.T) {
	b := New(1, time.Minute)

	fetchErr := errors.New("backend down")
	if err := b.Do("influx", func() error { return fetchErr }); !errors.Is(err, fetchErr) {
		t.Fatalf("expected fetch error, got %v", err)
	}

	// Circuit is now open: fn must not run.
	called := false
	err := b.Do("influx", func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Fatal("fn should not run while open")
	}
}

func TestBreaker_OnTransitionCallback(t *testing.T) {
	b := New(2, time.Minute)

	var mu sync.Mutex
	var transitions []struct{ from, to State }
	b.OnTransition(func(source string, from, to State) {
		mu.Lock()
		transitions = append(transitions, struct{ from, to State }{from, to})
		mu.Unlock()
	})

	b.RecordFailure("influx")
	b.RecordFailure("influx") // closed→open

	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(transitions))
	}
	if transitions[0].from != StateClosed || transitions[0].to != StateOpen {
		t.Fatalf("expected closed→open, got %v→%v", transitions[0].from, transitions[0].to)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
