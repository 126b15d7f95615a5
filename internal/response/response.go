// Package response implements the graduated automated-response controller.
//
// Each monitored entity gets exactly one action per evaluation, scaled by
// threat severity: LOW is logged, MEDIUM alerts the operators, HIGH applies
// traffic rate limiting (and alerts), CRITICAL blocks the entity at the
// network boundary (and alerts). Blocks are time-boxed and reversed by a
// lazy expiry sweep run once per monitoring cycle.
package response

import (
	"context"
	"time"

	"github.com/rvail/netsentry/internal/fusion"
)

// Action identifies the response taken for one evaluation.
type Action string

const (
	ActionLog          Action = "LOG"
	ActionAlert        Action = "ALERT"
	ActionRateLimit    Action = "RATE_LIMIT"
	ActionBlock        Action = "BLOCK"
	ActionBlockSkipped Action = "BLOCK_SKIPPED"
	ActionBlockFailed  Action = "BLOCK_FAILED"
)

// BlockEntry tracks one active block. Immutable once created; removed on
// unblock (manual or expiry).
type BlockEntry struct {
	ID          string    `json:"id"`
	Entity      string    `json:"entity"`
	BlockedAt   time.Time `json:"blockedAt"`
	RiskAtBlock float64   `json:"riskAtBlock"`
	Reason      string    `json:"reason"`
}

// NotificationRecord is one admitted alert, retained for rate-limit
// windowing and statistics. History is append-only for the process lifetime,
// capped at historyCap entries.
type NotificationRecord struct {
	ID        string       `json:"id"`
	Entity    string       `json:"entity"`
	Level     fusion.Level `json:"-"`
	LevelName string       `json:"level"`
	FinalRisk float64      `json:"finalRisk"`
	Timestamp time.Time    `json:"timestamp"`
}

// ActionRecord is the audit-trail row persisted for every evaluation.
type ActionRecord struct {
	ID          string    `json:"id"`
	Entity      string    `json:"entity"`
	Action      Action    `json:"action"`
	Level       string    `json:"level"`
	FinalRisk   float64   `json:"finalRisk"`
	NetworkRisk float64   `json:"networkRisk"`
	UserRisk    float64   `json:"userRisk"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists action records for audit.
type Store interface {
	Record(ctx context.Context, rec *ActionRecord) error
	ListRecent(ctx context.Context, limit int) ([]*ActionRecord, error)
}

// Event is pushed to the optional event hook (realtime feed) after every
// state-changing operation.
type Event struct {
	Type      string    `json:"type"` // "action", "unblock"
	Entity    string    `json:"entity"`
	Action    Action    `json:"action,omitempty"`
	Level     string    `json:"level,omitempty"`
	FinalRisk float64   `json:"finalRisk,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
