package response

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rvail/netsentry/internal/firewall"
	"github.com/rvail/netsentry/internal/fusion"
	"github.com/rvail/netsentry/internal/notify"
)

// recordingNotifier captures alerts handed to the transport.
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
	err    error
}

func (n *recordingNotifier) Name() string { return "recording" }
func (n *recordingNotifier) Notify(_ context.Context, a notify.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.alerts = append(n.alerts, a)
	return nil
}
func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

// failingFirewall rejects every call with a non-sentinel error.
type failingFirewall struct{}

func (failingFirewall) Block(context.Context, string, string) error {
	return errors.New("enforcement point unreachable")
}
func (failingFirewall) Unblock(context.Context, string) error {
	return errors.New("enforcement point unreachable")
}

// fakeClock is a controllable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestController(t *testing.T, cfg Config) (*Controller, *firewall.MemoryFirewall, *recordingNotifier, *fakeClock) {
	t.Helper()
	fw := firewall.NewMemoryFirewall()
	n := &recordingNotifier{}
	clock := newFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	c := NewController(cfg, fw, n, WithClock(clock.Now))
	return c, fw, n, clock
}

func TestClassifyUsesInclusiveBounds(t *testing.T) {
	cases := []struct {
		risk float64
		want fusion.Level
	}{
		{0.0, fusion.Low},
		{0.39, fusion.Low},
		{0.4, fusion.Medium},
		{0.59, fusion.Medium},
		{0.6, fusion.High},
		{0.79, fusion.High},
		{0.8, fusion.Critical},
		{0.95, fusion.Critical},
	}
	for _, tc := range cases {
		if got := Classify(tc.risk); got != tc.want {
			t.Errorf("Classify(%v) = %s, want %s", tc.risk, got, tc.want)
		}
	}
}

func TestLowThreatLogsOnly(t *testing.T) {
	c, fw, n, _ := newTestController(t, DefaultConfig())

	action := c.TakeAction(context.Background(), "10.0.0.1", 0.34, 0.5, 0.1)
	if action != ActionLog {
		t.Fatalf("action = %s, want LOG", action)
	}

	stats := c.Statistics()
	if stats.TotalAlerts != 0 || stats.TotalBlocks != 0 || stats.TotalRateLimits != 0 {
		t.Errorf("LOW must not mutate counters: %+v", stats)
	}
	if fw.RuleCount() != 0 || n.count() != 0 {
		t.Error("LOW must not touch collaborators")
	}
}

func TestMediumThreatAlerts(t *testing.T) {
	c, _, n, _ := newTestController(t, DefaultConfig())

	action := c.TakeAction(context.Background(), "10.0.0.2", 0.5, 0.6, 0.4)
	if action != ActionAlert {
		t.Fatalf("action = %s, want ALERT", action)
	}
	if n.count() != 1 {
		t.Errorf("notifications = %d, want 1", n.count())
	}
	stats := c.Statistics()
	if stats.TotalAlerts != 1 {
		t.Errorf("totalAlerts = %d, want 1", stats.TotalAlerts)
	}
	if len(c.Alerts(10)) != 1 {
		t.Errorf("history = %d, want 1", len(c.Alerts(10)))
	}
}

func TestHighThreatRateLimitsAndAlerts(t *testing.T) {
	c, _, n, _ := newTestController(t, DefaultConfig())

	action := c.TakeAction(context.Background(), "10.0.0.3", 0.7, 0.8, 0.5)
	if action != ActionRateLimit {
		t.Fatalf("action = %s, want RATE_LIMIT", action)
	}
	// Both side effects fire: throttle bookkeeping AND an alert.
	stats := c.Statistics()
	if stats.TotalRateLimits != 1 {
		t.Errorf("totalRateLimits = %d, want 1", stats.TotalRateLimits)
	}
	if stats.TotalAlerts != 1 || n.count() != 1 {
		t.Errorf("alert side effect missing: alerts=%d sent=%d", stats.TotalAlerts, n.count())
	}
	if got := c.RateLimited(); len(got) != 1 || got[0] != "10.0.0.3" {
		t.Errorf("rate-limited set = %v", got)
	}
}

func TestCriticalThreatBlocksAndAlerts(t *testing.T) {
	c, fw, n, _ := newTestController(t, DefaultConfig())

	action := c.TakeAction(context.Background(), "203.0.113.9", 0.89, 0.95, 0.8)
	if action != ActionBlock {
		t.Fatalf("action = %s, want BLOCK", action)
	}
	if !fw.Blocked("203.0.113.9") {
		t.Error("firewall rule missing")
	}
	if len(c.Blocked()) != 1 {
		t.Errorf("registry entries = %d, want 1", len(c.Blocked()))
	}
	if n.count() != 1 {
		t.Errorf("notifications = %d, want 1", n.count())
	}
	stats := c.Statistics()
	if stats.TotalBlocks != 1 || stats.CurrentlyBlocked != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestBlockIsIdempotent(t *testing.T) {
	c, fw, _, _ := newTestController(t, DefaultConfig())
	ctx := context.Background()

	first := c.TakeAction(ctx, "203.0.113.9", 0.9, 0.95, 0.8)
	second := c.TakeAction(ctx, "203.0.113.9", 0.9, 0.95, 0.8)

	if first != ActionBlock {
		t.Fatalf("first action = %s, want BLOCK", first)
	}
	if second != ActionBlockSkipped {
		t.Fatalf("second action = %s, want BLOCK_SKIPPED", second)
	}
	if len(c.Blocked()) != 1 {
		t.Errorf("registry entries = %d, want exactly 1", len(c.Blocked()))
	}
	if got := c.Statistics().TotalBlocks; got != 1 {
		t.Errorf("totalBlocks = %d, want exactly 1", got)
	}
	if fw.RuleCount() != 1 {
		t.Errorf("firewall rules = %d, want 1 (no duplicate external rule)", fw.RuleCount())
	}
}

func TestDuplicateRuleAtInfrastructureIsBenignSkip(t *testing.T) {
	c, fw, _, _ := newTestController(t, DefaultConfig())
	ctx := context.Background()

	// A rule exists at the enforcement point but not in the registry.
	if err := fw.Block(ctx, "203.0.113.9", "pre-existing"); err != nil {
		t.Fatal(err)
	}

	action := c.TakeAction(ctx, "203.0.113.9", 0.9, 0.95, 0.8)
	if action != ActionBlockSkipped {
		t.Fatalf("action = %s, want BLOCK_SKIPPED", action)
	}
	if got := c.Statistics().TotalBlocks; got != 0 {
		t.Errorf("totalBlocks = %d, want 0", got)
	}
}

func TestBlockFailureIsReported(t *testing.T) {
	n := &recordingNotifier{}
	clock := newFakeClock(time.Now())
	c := NewController(DefaultConfig(), failingFirewall{}, n, WithClock(clock.Now))

	action := c.TakeAction(context.Background(), "203.0.113.9", 0.9, 0.95, 0.8)
	if action != ActionBlockFailed {
		t.Fatalf("action = %s, want BLOCK_FAILED", action)
	}
	if len(c.Blocked()) != 0 {
		t.Error("failed block must not create a registry entry")
	}
	if got := c.Statistics().TotalBlocks; got != 0 {
		t.Errorf("totalBlocks = %d, want 0", got)
	}
}

func TestUnblockOfUnknownIsNoop(t *testing.T) {
	c, _, _, _ := newTestController(t, DefaultConfig())

	removed, err := c.Unblock(context.Background(), "never-blocked")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed {
		t.Error("unblock of unknown entity must be a no-op")
	}
	if got := c.Statistics().TotalUnblocks; got != 0 {
		t.Errorf("totalUnblocks = %d, want 0", got)
	}
}

func TestSweepExpiredHonorsTimeoutBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlockTimeout = 10 * time.Minute
	c, fw, _, clock := newTestController(t, cfg)
	ctx := context.Background()

	if got := c.TakeAction(ctx, "203.0.113.9", 0.9, 0.95, 0.8); got != ActionBlock {
		t.Fatalf("setup block failed: %s", got)
	}

	// Still blocked just before the timeout.
	clock.Advance(9*time.Minute + 59*time.Second)
	if swept := c.SweepExpired(ctx, clock.Now()); swept != 0 {
		t.Errorf("swept %d entries before timeout", swept)
	}
	if len(c.Blocked()) != 1 {
		t.Error("entry must survive until the timeout elapses")
	}

	// Absent after a sweep past the timeout.
	clock.Advance(2 * time.Second) // T+10m01s
	if swept := c.SweepExpired(ctx, clock.Now()); swept != 1 {
		t.Errorf("swept = %d, want 1", swept)
	}
	if len(c.Blocked()) != 0 {
		t.Error("entry must be removed after expiry sweep")
	}
	if fw.Blocked("203.0.113.9") {
		t.Error("firewall rule must be revoked on expiry")
	}
	if got := c.Statistics().TotalUnblocks; got != 1 {
		t.Errorf("totalUnblocks = %d, want 1", got)
	}
}

func TestAlertRateLimiting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAlertsPerHr = 2
	c, _, n, clock := newTestController(t, cfg)
	ctx := context.Background()

	// Three MEDIUM actions inside one clock hour.
	for i, entity := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		clock.Advance(time.Minute)
		if got := c.TakeAction(ctx, entity, 0.5, 0.6, 0.4); got != ActionAlert {
			t.Fatalf("action %d = %s, want ALERT", i, got)
		}
	}

	if len(c.Alerts(0)) != 2 {
		t.Errorf("notification records = %d, want 2", len(c.Alerts(0)))
	}
	if n.count() != 2 {
		t.Errorf("transport deliveries = %d, want 2", n.count())
	}
	stats := c.Statistics()
	if stats.TotalAlerts != 3 {
		t.Errorf("totalAlerts = %d, want 3 (attempts)", stats.TotalAlerts)
	}
	if stats.AlertsSuppressed != 1 {
		t.Errorf("suppressed = %d, want 1", stats.AlertsSuppressed)
	}
}

func TestSuppressedAlertDoesNotSuppressRateLimitSideEffects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAlertsPerHr = 1
	c, _, _, clock := newTestController(t, cfg)
	ctx := context.Background()

	c.TakeAction(ctx, "10.0.0.1", 0.7, 0.8, 0.5) // admits the only alert of the hour
	clock.Advance(time.Minute)
	action := c.TakeAction(ctx, "10.0.0.2", 0.7, 0.8, 0.5)

	if action != ActionRateLimit {
		t.Fatalf("action = %s, want RATE_LIMIT", action)
	}
	stats := c.Statistics()
	if stats.TotalRateLimits != 2 {
		t.Errorf("totalRateLimits = %d, want 2 (throttle fires regardless of alert suppression)", stats.TotalRateLimits)
	}
	if len(c.RateLimited()) != 2 {
		t.Errorf("rate-limited set = %v, want both entities", c.RateLimited())
	}
}

// gateFirewall holds each Unblock call open until released, exposing any
// window between the registry check and the registry removal.
type gateFirewall struct {
	*firewall.MemoryFirewall
	entered chan struct{}
	release chan struct{}
}

func (f *gateFirewall) Unblock(ctx context.Context, entity string) error {
	f.entered <- struct{}{}
	<-f.release
	return f.MemoryFirewall.Unblock(ctx, entity)
}

func TestAdminUnblockAndSweepCountOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlockTimeout = 10 * time.Minute
	fw := &gateFirewall{
		MemoryFirewall: firewall.NewMemoryFirewall(),
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	clock := newFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	var mu sync.Mutex
	var unblockEvents int
	c := NewController(cfg, fw, &recordingNotifier{},
		WithClock(clock.Now),
		WithEventHook(func(ev Event) {
			if ev.Type == "unblock" {
				mu.Lock()
				unblockEvents++
				mu.Unlock()
			}
		}))
	ctx := context.Background()

	if got := c.TakeAction(ctx, "203.0.113.9", 0.9, 0.95, 0.8); got != ActionBlock {
		t.Fatalf("setup block failed: %s", got)
	}
	clock.Advance(11 * time.Minute) // past the timeout, sweep-eligible

	// Admin unblock stalls inside the firewall call while a sweep arrives.
	unblocked := make(chan bool)
	go func() {
		ok, err := c.Unblock(ctx, "203.0.113.9")
		if err != nil {
			t.Errorf("unblock: %v", err)
		}
		unblocked <- ok
	}()
	<-fw.entered

	swept := make(chan int)
	go func() { swept <- c.SweepExpired(ctx, clock.Now()) }()
	close(fw.release)

	if ok := <-unblocked; !ok {
		t.Error("admin unblock should have removed the entry")
	}
	if n := <-swept; n != 0 {
		t.Errorf("sweep removed %d entries already unblocked by the admin", n)
	}
	if got := c.Statistics().TotalUnblocks; got != 1 {
		t.Errorf("totalUnblocks = %d, want exactly 1 for a single block", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if unblockEvents != 1 {
		t.Errorf("unblock events = %d, want exactly 1", unblockEvents)
	}
}

func TestAlertThresholdGatesNotificationAttempts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AlertThreshold = 0.6
	cfg.MaxAlertsPerHr = 1
	c, _, n, clock := newTestController(t, cfg)
	ctx := context.Background()

	// MEDIUM below the threshold: the action stands, but no notification
	// attempt is made and nothing counts against the hourly cap.
	for _, entity := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		clock.Advance(time.Minute)
		if got := c.TakeAction(ctx, entity, 0.5, 0.6, 0.35); got != ActionAlert {
			t.Fatalf("action = %s, want ALERT", got)
		}
	}
	if n.count() != 0 {
		t.Errorf("deliveries = %d, want 0 below threshold", n.count())
	}
	stats := c.Statistics()
	if stats.TotalAlerts != 0 || stats.AlertsSuppressed != 0 {
		t.Errorf("sub-threshold risk must not count attempts: %+v", stats)
	}
	if len(c.Alerts(0)) != 0 {
		t.Errorf("history = %d, want 0", len(c.Alerts(0)))
	}

	// At/above the threshold the attempt fires and the cap applies.
	clock.Advance(time.Minute)
	c.TakeAction(ctx, "10.0.0.4", 0.65, 0.8, 0.4)
	clock.Advance(time.Minute)
	c.TakeAction(ctx, "10.0.0.5", 0.65, 0.8, 0.4)

	if n.count() != 1 {
		t.Errorf("deliveries = %d, want 1 (cap of 1)", n.count())
	}
	stats = c.Statistics()
	if stats.TotalAlerts != 2 || stats.AlertsSuppressed != 1 {
		t.Errorf("attempts/suppressed = %d/%d, want 2/1", stats.TotalAlerts, stats.AlertsSuppressed)
	}
}

func TestNotifierFailureDoesNotFailAction(t *testing.T) {
	fw := firewall.NewMemoryFirewall()
	n := &recordingNotifier{err: errors.New("transport down")}
	c := NewController(DefaultConfig(), fw, n)

	if got := c.TakeAction(context.Background(), "10.0.0.2", 0.5, 0.6, 0.4); got != ActionAlert {
		t.Fatalf("action = %s, want ALERT despite transport failure", got)
	}
}

func TestAuditStoreReceivesRecords(t *testing.T) {
	fw := firewall.NewMemoryFirewall()
	store := NewMemoryStore()
	c := NewController(DefaultConfig(), fw, &recordingNotifier{}, WithStore(store))

	c.TakeAction(context.Background(), "10.0.0.1", 0.2, 0.2, 0.2)

	// Persistence is asynchronous; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		recs, err := store.ListRecent(context.Background(), 10)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(recs) == 1 {
			if recs[0].Action != ActionLog || recs[0].Entity != "10.0.0.1" {
				t.Errorf("unexpected record: %+v", recs[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("audit record never arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEventHookFires(t *testing.T) {
	fw := firewall.NewMemoryFirewall()
	var mu sync.Mutex
	var events []Event
	c := NewController(DefaultConfig(), fw, &recordingNotifier{},
		WithEventHook(func(ev Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}))

	c.TakeAction(context.Background(), "203.0.113.9", 0.9, 0.95, 0.8)
	if _, err := c.Unblock(context.Background(), "203.0.113.9"); err != nil {
		t.Fatalf("unblock: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Type != "action" || events[1].Type != "unblock" {
		t.Errorf("event types = %s, %s", events[0].Type, events[1].Type)
	}
}
