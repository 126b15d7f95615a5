// Package notify delivers threat alerts to operator-facing channels.
//
// Delivery is best-effort: a failed sink is logged and counted, never
// propagated as fatal to the response path.
package notify

import (
	"context"
	"time"

	"github.com/rvail/netsentry/internal/fusion"
)

// Alert is one outbound notification about an entity.
type Alert struct {
	ID          string       `json:"id"`
	Entity      string       `json:"entity"`
	Level       fusion.Level `json:"-"`
	LevelName   string       `json:"level"`
	FinalRisk   float64      `json:"finalRisk"`
	NetworkRisk float64      `json:"networkRisk"`
	UserRisk    float64      `json:"userRisk"`
	Action      string       `json:"action"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Notifier delivers one alert to a channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert Alert) error
}
