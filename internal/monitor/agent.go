// Package monitor drives the periodic risk evaluation cycle: fetch
// network and user telemetry, fuse per-entity risk, hand each entity to
// the response controller, and expire stale blocks.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rvail/netsentry/internal/behavior"
	"github.com/rvail/netsentry/internal/circuitbreaker"
	"github.com/rvail/netsentry/internal/fusion"
	"github.com/rvail/netsentry/internal/logging"
	"github.com/rvail/netsentry/internal/metrics"
	"github.com/rvail/netsentry/internal/netsignal"
	"github.com/rvail/netsentry/internal/response"
	"github.com/rvail/netsentry/internal/traces"
)

const (
	// fetchTimeout bounds one telemetry fetch so a slow backend cannot
	// eat the whole cycle.
	fetchTimeout = 15 * time.Second

	// fallbackUserRisk is assumed for entities with no behavioral match.
	fallbackUserRisk = 0.1

	// statsEvery controls how often the running statistics are logged.
	statsEvery = 10
)

// Agent runs the monitoring loop.
type Agent struct {
	netSource  netsignal.Source
	userSource behavior.Source
	scorer     behavior.AnomalyScorer
	controller *response.Controller

	interval time.Duration
	breaker  *circuitbreaker.Breaker
	logger   *slog.Logger
	now      func() time.Time

	stop      chan struct{}
	running   atomic.Bool
	cycle     atomic.Uint64
	lastCycle atomic.Int64 // unix nanos of last completed cycle
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the agent's logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithBreaker sets the circuit breaker guarding telemetry fetches.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(a *Agent) { a.breaker = b }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// New creates a monitoring agent.
func New(interval time.Duration, net netsignal.Source, user behavior.Source,
	scorer behavior.AnomalyScorer, ctrl *response.Controller, opts ...Option) *Agent {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	a := &Agent{
		netSource:  net,
		userSource: user,
		scorer:     scorer,
		controller: ctrl,
		interval:   interval,
		breaker:    circuitbreaker.New(3, 2*interval),
		logger:     slog.Default(),
		now:        time.Now,
		stop:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Running reports whether the loop is active.
func (a *Agent) Running() bool {
	return a.running.Load()
}

// LastCycle returns when the last cycle completed, zero if none has.
func (a *Agent) LastCycle() time.Time {
	n := a.lastCycle.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Interval returns the configured cycle interval.
func (a *Agent) Interval() time.Duration {
	return a.interval
}

// Start runs the monitoring loop until ctx is done or Stop is called.
// One cycle runs immediately; subsequent cycles follow the interval.
// Call in a goroutine.
func (a *Agent) Start(ctx context.Context) {
	a.running.Store(true)
	defer a.running.Store(false)

	a.logger.Info("monitoring started", "interval", a.interval.String())
	a.safeCycle(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flushStats()
			return
		case <-a.stop:
			a.flushStats()
			return
		case <-ticker.C:
			a.safeCycle(ctx)
		}
	}
}

// Stop signals the loop to stop. The buffered channel latches the signal
// even while a cycle is in flight; repeated calls are no-ops.
func (a *Agent) Stop() {
	select {
	case a.stop <- struct{}{}:
	default:
	}
}

func (a *Agent) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic in monitoring cycle", "panic", fmt.Sprint(r))
		}
	}()
	a.RunCycle(ctx)
}

// RunCycle performs one evaluation pass. Telemetry failures degrade to
// empty inputs; they never abort the cycle.
func (a *Agent) RunCycle(ctx context.Context) {
	start := a.now()
	cycle := a.cycle.Add(1)
	ctx, span := traces.StartSpan(ctx, "monitor.cycle")
	defer span.End()
	ctx = logging.WithCycle(ctx, cycle)
	log := a.logger.With("cycle", cycle)

	signals := a.fetchSignals(ctx, log)
	userRisks := a.fetchUserRisks(ctx, log)

	for _, sig := range signals {
		a.evaluate(ctx, log, sig, userRisks)
	}

	expired := a.controller.SweepExpired(ctx, a.now())
	if expired > 0 {
		log.Info("expired blocks removed", "count", expired)
	}

	elapsed := a.now().Sub(start)
	metrics.CyclesTotal.Inc()
	metrics.CycleDuration.Observe(elapsed.Seconds())
	a.lastCycle.Store(a.now().UnixNano())

	log.Debug("cycle complete",
		"entities", len(signals),
		"users", len(userRisks),
		"duration", elapsed.String())

	if cycle%statsEvery == 0 {
		a.flushStats()
	}
}

// evaluate fuses one entity's risk and dispatches the response. A panic
// while handling one entity must not take down the rest of the cycle.
func (a *Agent) evaluate(ctx context.Context, log *slog.Logger, sig netsignal.Signal, userRisks map[string]map[string]float64) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic evaluating entity", "entity", sig.Entity, "panic", fmt.Sprint(r))
		}
	}()

	userRisk := matchUserRisk(sig.Entity, userRisks)
	result := fusion.Fuse(sig.Risk, userRisk)

	ctx, span := traces.StartSpan(ctx, "monitor.evaluate",
		traces.Entity(sig.Entity), traces.Risk(result.FinalRisk))
	defer span.End()

	action := a.controller.TakeAction(ctx, sig.Entity, result.FinalRisk, sig.Risk, userRisk)
	span.SetAttributes(traces.ResponseAction(string(action)))

	log.Debug("entity evaluated",
		"entity", sig.Entity,
		"network_risk", sig.Risk,
		"user_risk", userRisk,
		"final_risk", result.FinalRisk,
		"level", result.Level.String(),
		"action", string(action))
}

func (a *Agent) fetchSignals(ctx context.Context, log *slog.Logger) []netsignal.Signal {
	ctx, span := traces.StartSpan(ctx, "monitor.fetch_signals",
		traces.SignalSource(a.netSource.Name()))
	defer span.End()

	var signals []netsignal.Signal
	err := a.breaker.Do(a.netSource.Name(), func() error {
		fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
		defer cancel()
		var err error
		signals, err = a.netSource.Fetch(fctx)
		return err
	})
	if err != nil {
		metrics.SignalFetchErrorsTotal.WithLabelValues(a.netSource.Name()).Inc()
		log.Warn("network signal fetch failed", "source", a.netSource.Name(), "error", err)
		return nil
	}
	return signals
}

// fetchUserRisks returns per-user risk plus the source IPs each user was
// seen from, keyed ip → user → risk for the entity join.
func (a *Agent) fetchUserRisks(ctx context.Context, log *slog.Logger) map[string]map[string]float64 {
	ctx, span := traces.StartSpan(ctx, "monitor.fetch_user_risks",
		traces.SignalSource(a.userSource.Name()))
	defer span.End()

	var events []behavior.Event
	err := a.breaker.Do(a.userSource.Name(), func() error {
		fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
		defer cancel()
		var err error
		events, err = a.userSource.Fetch(fctx)
		return err
	})
	if err != nil {
		metrics.SignalFetchErrorsTotal.WithLabelValues(a.userSource.Name()).Inc()
		log.Warn("behavior log fetch failed", "source", a.userSource.Name(), "error", err)
		return nil
	}

	risks, err := behavior.ComputeRisks(events, a.scorer)
	if err != nil {
		metrics.SignalFetchErrorsTotal.WithLabelValues("scorer").Inc()
		log.Warn("behavior scoring failed", "error", err)
		return nil
	}

	byIP := make(map[string]map[string]float64)
	for _, ev := range events {
		if ev.SourceIP == "" {
			continue
		}
		risk, ok := risks[ev.User]
		if !ok {
			continue
		}
		users := byIP[ev.SourceIP]
		if users == nil {
			users = make(map[string]float64)
			byIP[ev.SourceIP] = users
		}
		users[ev.User] = risk
	}
	return byIP
}

// matchUserRisk joins a network entity to behavioral risk: the highest
// risk among users seen from that address, or the fallback when none.
func matchUserRisk(entity string, byIP map[string]map[string]float64) float64 {
	users, ok := byIP[entity]
	if !ok || len(users) == 0 {
		return fallbackUserRisk
	}
	risk := 0.0
	for _, r := range users {
		if r > risk {
			risk = r
		}
	}
	return risk
}

func (a *Agent) flushStats() {
	stats := a.controller.Statistics()
	a.logger.Info("response statistics",
		"uptime_seconds", stats.UptimeSeconds,
		"total_blocks", stats.TotalBlocks,
		"total_unblocks", stats.TotalUnblocks,
		"total_alerts", stats.TotalAlerts,
		"alerts_suppressed", stats.AlertsSuppressed,
		"total_rate_limits", stats.TotalRateLimits,
		"currently_blocked", stats.CurrentlyBlocked)
}
