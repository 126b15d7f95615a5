package health

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})
	r.Register("monitor", func(_ context.Context) Status {
		return Status{Name: "monitor", Healthy: true, Detail: "ok"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all-healthy registry should report healthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})
	r.Register("monitor", func(_ context.Context) Status {
		return Status{Name: "monitor", Healthy: false, Detail: "cycle overdue"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with unhealthy checker should report unhealthy")
	}
	if statuses[1].Detail != "cycle overdue" {
		t.Fatalf("expected detail 'cycle overdue', got %q", statuses[1].Detail)
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("checker", func(_ context.Context) Status {
				return Status{Name: "checker", Healthy: true}
			})
		}()
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}
	wg.Wait()
}

type fakeCycleSource struct {
	last     time.Time
	interval time.Duration
}

func (f fakeCycleSource) LastCycle() time.Time     { return f.last }
func (f fakeCycleSource) Interval() time.Duration  { return f.interval }

func TestCycleFreshness(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return base }

	tests := []struct {
		name string
		src  fakeCycleSource
		want bool
	}{
		{"never ran yet", fakeCycleSource{interval: time.Minute}, true},
		{"fresh", fakeCycleSource{last: base.Add(-time.Minute), interval: time.Minute}, true},
		{"at the boundary", fakeCycleSource{last: base.Add(-3 * time.Minute), interval: time.Minute}, true},
		{"stale", fakeCycleSource{last: base.Add(-4 * time.Minute), interval: time.Minute}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := CycleFreshness(tt.src, now)(context.Background())
			if status.Healthy != tt.want {
				t.Fatalf("healthy = %v, want %v (detail: %s)", status.Healthy, tt.want, status.Detail)
			}
		})
	}
}
