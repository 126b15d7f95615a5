package notify

import (
	"context"
	"log/slog"

	"github.com/rvail/netsentry/internal/metrics"
)

// Multi fans one alert out to every configured channel. Per-sink failures
// are logged and counted; Notify itself never fails.
type Multi struct {
	sinks  []Notifier
	logger *slog.Logger
}

// NewMulti creates a fan-out notifier over the given sinks.
func NewMulti(logger *slog.Logger, sinks ...Notifier) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{sinks: sinks, logger: logger}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Notify(ctx context.Context, alert Alert) error {
	for _, sink := range m.sinks {
		if err := sink.Notify(ctx, alert); err != nil {
			metrics.NotifyDeliveriesTotal.WithLabelValues(sink.Name(), "error").Inc()
			m.logger.Warn("alert delivery failed",
				"sink", sink.Name(), "alert_id", alert.ID, "entity", alert.Entity, "error", err)
			continue
		}
		metrics.NotifyDeliveriesTotal.WithLabelValues(sink.Name(), "ok").Inc()
	}
	return nil
}
