package response

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rvail/netsentry/internal/firewall"
	"github.com/rvail/netsentry/internal/fusion"
	"github.com/rvail/netsentry/internal/idgen"
	"github.com/rvail/netsentry/internal/metrics"
	"github.com/rvail/netsentry/internal/notify"
)

// externalCallTimeout bounds each firewall/notification call so one stalled
// collaborator cannot stall the monitoring cadence.
const externalCallTimeout = 5 * time.Second

// Config carries the controller's validated tunables.
type Config struct {
	BlockTimeout    time.Duration
	MaxAlertsPerHr  int
	AlertThreshold  float64       // minimum risk for a notification attempt
	RateLimitWindow time.Duration // retention for the ephemeral rate-limited set
}

// DefaultConfig returns the standard production tunables.
func DefaultConfig() Config {
	return Config{
		BlockTimeout:    10 * time.Minute,
		MaxAlertsPerHr:  10,
		AlertThreshold:  0.4,
		RateLimitWindow: 5 * time.Minute,
	}
}

// Controller decides and executes one graduated response action per entity
// per evaluation, and owns all response state: the block registry, the
// rate-limited set, notification history, and statistics counters.
//
// A single controller instance is the sole state owner. TakeAction, Unblock,
// and SweepExpired are mutually exclusive: the admin API's Unblock cannot
// interleave with the monitoring loop's sweep, so one block yields exactly
// one counted unblock. Readers (Statistics, Blocked, Alerts) stay lock-free
// against the mutating path via the sub-structure locks.
type Controller struct {
	mu       sync.Mutex // serializes the mutating operations
	cfg      Config
	registry *BlockRegistry
	limiter  *AlertLimiter
	stats    *statistics

	rateLimited *rateLimitedSet

	fw       firewall.Firewall
	notifier notify.Notifier
	store    Store
	logger   *slog.Logger
	onEvent  func(Event)
	now      func() time.Time
}

// Option configures the Controller.
type Option func(*Controller)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithStore sets the audit store. Records are persisted best-effort and
// never block an action.
func WithStore(s Store) Option {
	return func(c *Controller) { c.store = s }
}

// WithEventHook registers a callback invoked after every state-changing
// operation (used by the realtime feed).
func WithEventHook(fn func(Event)) Option {
	return func(c *Controller) { c.onEvent = fn }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a response controller over the given enforcement and
// notification collaborators.
func NewController(cfg Config, fw firewall.Firewall, notifier notify.Notifier, opts ...Option) *Controller {
	c := &Controller{
		cfg:         cfg,
		fw:          fw,
		notifier:    notifier,
		logger:      slog.Default(),
		now:         time.Now,
		rateLimited: newRateLimitedSet(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.registry = NewBlockRegistry()
	c.limiter = NewAlertLimiter(cfg.MaxAlertsPerHr, cfg.AlertThreshold)
	c.stats = newStatistics(c.now())
	return c
}

// Classify maps a risk score to a threat level for action selection. The
// bands use inclusive lower bounds, so an exact 0.8 is CRITICAL here even
// though fusion.Fuse labels it HIGH.
func Classify(riskScore float64) fusion.Level {
	switch {
	case riskScore >= 0.8:
		return fusion.Critical
	case riskScore >= 0.6:
		return fusion.High
	case riskScore >= 0.4:
		return fusion.Medium
	default:
		return fusion.Low
	}
}

// TakeAction evaluates one entity and executes exactly one action. All
// failures are absorbed: the returned Action reports what happened, and the
// controller never propagates collaborator errors to the caller.
func (c *Controller) TakeAction(ctx context.Context, entity string, finalRisk, networkRisk, userRisk float64) Action {
	c.mu.Lock()
	defer c.mu.Unlock()

	level := Classify(finalRisk)

	var action Action
	switch level {
	case fusion.Low:
		c.logger.Info("threat logged",
			"entity", entity, "final_risk", finalRisk,
			"network_risk", networkRisk, "user_risk", userRisk)
		action = ActionLog

	case fusion.Medium:
		c.emitAlert(ctx, entity, ActionAlert, level, finalRisk, networkRisk, userRisk)
		action = ActionAlert

	case fusion.High:
		c.rateLimited.add(entity, c.now())
		c.stats.addRateLimit()
		metrics.RateLimitsTotal.Inc()
		c.logger.Warn("rate limiting applied", "entity", entity, "final_risk", finalRisk)
		c.emitAlert(ctx, entity, ActionRateLimit, level, finalRisk, networkRisk, userRisk)
		action = ActionRateLimit

	default: // fusion.Critical
		action = c.block(ctx, entity, finalRisk, networkRisk, userRisk)
	}

	metrics.ActionsTotal.WithLabelValues(string(action)).Inc()
	c.record(&ActionRecord{
		ID:          idgen.WithPrefix("act_"),
		Entity:      entity,
		Action:      action,
		Level:       level.String(),
		FinalRisk:   finalRisk,
		NetworkRisk: networkRisk,
		UserRisk:    userRisk,
		CreatedAt:   c.now(),
	})
	c.emitEvent(Event{
		Type:      "action",
		Entity:    entity,
		Action:    action,
		Level:     level.String(),
		FinalRisk: finalRisk,
		Timestamp: c.now(),
	})
	return action
}

// block installs a boundary deny rule for entity. Blocking an
// already-blocked entity is a no-op skip, as is a duplicate-rule report from
// the enforcement point; neither double-counts nor issues a second rule.
func (c *Controller) block(ctx context.Context, entity string, finalRisk, networkRisk, userRisk float64) Action {
	if _, blocked := c.registry.Get(entity); blocked {
		c.logger.Info("entity already blocked, skipping", "entity", entity)
		return ActionBlockSkipped
	}

	reason := fmt.Sprintf("critical threat: risk %.2f", finalRisk)
	callCtx, cancel := context.WithTimeout(ctx, externalCallTimeout)
	err := c.fw.Block(callCtx, entity, reason)
	cancel()

	switch {
	case errors.Is(err, firewall.ErrDuplicateRule):
		c.logger.Warn("deny rule already present at enforcement point", "entity", entity)
		return ActionBlockSkipped
	case err != nil:
		c.logger.Error("failed to block entity", "entity", entity, "error", err)
		return ActionBlockFailed
	}

	c.registry.Add(BlockEntry{
		ID:          idgen.WithPrefix("blk_"),
		Entity:      entity,
		BlockedAt:   c.now(),
		RiskAtBlock: finalRisk,
		Reason:      reason,
	})
	c.stats.addBlock()
	metrics.BlocksTotal.Inc()
	metrics.CurrentlyBlocked.Set(float64(c.registry.Len()))

	c.logger.Error("entity blocked",
		"entity", entity, "final_risk", finalRisk,
		"network_risk", networkRisk, "user_risk", userRisk,
		"unblock_after", c.cfg.BlockTimeout)

	c.emitAlert(ctx, entity, ActionBlock, fusion.Critical, finalRisk, networkRisk, userRisk)
	return ActionBlock
}

// Unblock removes the block for entity and revokes the boundary rule.
// Returns false for an entity that is not blocked (a benign no-op). On a
// real revoke failure the entry is kept so a later sweep retries.
func (c *Controller) Unblock(ctx context.Context, entity string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unblock(ctx, entity)
}

// unblock is the body of Unblock; callers hold c.mu.
func (c *Controller) unblock(ctx context.Context, entity string) (bool, error) {
	entry, ok := c.registry.Get(entity)
	if !ok {
		c.logger.Warn("unblock requested for entity not in registry", "entity", entity)
		return false, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, externalCallTimeout)
	err := c.fw.Unblock(callCtx, entity)
	cancel()

	if err != nil && !errors.Is(err, firewall.ErrNotFound) {
		c.logger.Error("failed to unblock entity", "entity", entity, "error", err)
		return false, fmt.Errorf("unblock %s: %w", entity, err)
	}
	if errors.Is(err, firewall.ErrNotFound) {
		c.logger.Warn("deny rule already absent at enforcement point", "entity", entity)
	}

	c.registry.Remove(entity)
	c.stats.addUnblock()
	metrics.UnblocksTotal.Inc()
	metrics.CurrentlyBlocked.Set(float64(c.registry.Len()))

	c.logger.Info("entity unblocked",
		"entity", entity,
		"blocked_for", c.now().Sub(entry.BlockedAt).Round(time.Second),
		"risk_at_block", entry.RiskAtBlock)

	c.emitEvent(Event{Type: "unblock", Entity: entity, Timestamp: c.now()})
	return true, nil
}

// SweepExpired unblocks every entry older than the block timeout. Expiry is
// detected lazily here, once per monitoring cycle, so an expired block can
// stay active for up to one interval past its nominal deadline. It also
// prunes the ephemeral rate-limited set.
func (c *Controller) SweepExpired(ctx context.Context, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	swept := 0
	for _, entity := range c.registry.ExpiredAt(now, c.cfg.BlockTimeout) {
		c.logger.Info("block timeout reached, unblocking", "entity", entity)
		if ok, _ := c.unblock(ctx, entity); ok {
			swept++
		}
	}
	c.rateLimited.prune(now, c.cfg.RateLimitWindow)
	return swept
}

// emitAlert attempts one notification for a risk at or above the alert
// threshold; below it no attempt is made at all. total_alerts counts every
// attempt; only admitted alerts append history and reach the transport. A
// suppressed alert never suppresses the other side effects of the action.
func (c *Controller) emitAlert(ctx context.Context, entity string, action Action, level fusion.Level, finalRisk, networkRisk, userRisk float64) {
	if finalRisk < c.cfg.AlertThreshold {
		c.logger.Info("risk below alert threshold, no notification",
			"entity", entity, "final_risk", finalRisk, "threshold", c.cfg.AlertThreshold)
		return
	}

	c.stats.addAlert()
	now := c.now()

	if !c.limiter.Admit(now) {
		c.stats.addSuppress()
		metrics.AlertsSuppressedTotal.Inc()
		c.logger.Warn("alert suppressed by hourly rate limit",
			"entity", entity, "level", level.String(), "final_risk", finalRisk)
		return
	}

	id := idgen.WithPrefix("alr_")
	c.limiter.Record(NotificationRecord{
		ID:        id,
		Entity:    entity,
		Level:     level,
		LevelName: level.String(),
		FinalRisk: finalRisk,
		Timestamp: now,
	})
	metrics.AlertsSentTotal.Inc()

	callCtx, cancel := context.WithTimeout(ctx, externalCallTimeout)
	defer cancel()
	if err := c.notifier.Notify(callCtx, notify.Alert{
		ID:          id,
		Entity:      entity,
		Level:       level,
		LevelName:   level.String(),
		FinalRisk:   finalRisk,
		NetworkRisk: networkRisk,
		UserRisk:    userRisk,
		Action:      string(action),
		Timestamp:   now,
	}); err != nil {
		c.logger.Warn("alert notification failed", "entity", entity, "error", err)
	}
}

// record persists an audit row asynchronously, best-effort.
func (c *Controller) record(rec *ActionRecord) {
	if c.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), externalCallTimeout)
		defer cancel()
		if err := c.store.Record(ctx, rec); err != nil {
			c.logger.Warn("audit record failed", "entity", rec.Entity, "error", err)
		}
	}()
}

func (c *Controller) emitEvent(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

// Statistics returns a snapshot of the controller's counters and registry.
func (c *Controller) Statistics() Statistics {
	return c.stats.snapshot(c.now(), c.registry)
}

// Blocked returns a snapshot of all active block entries.
func (c *Controller) Blocked() []BlockEntry {
	return c.registry.Entries()
}

// Alerts returns the most recent notification records, newest first.
func (c *Controller) Alerts(limit int) []NotificationRecord {
	return c.limiter.History(limit)
}

// RateLimited returns the entities currently in the ephemeral rate-limited set.
func (c *Controller) RateLimited() []string {
	return c.rateLimited.entities()
}

// Actions returns recent audit records from the store, newest first.
// Returns nil when no audit store is configured.
func (c *Controller) Actions(ctx context.Context, limit int) ([]*ActionRecord, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.ListRecent(ctx, limit)
}
