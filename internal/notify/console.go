package notify

import (
	"context"
	"log/slog"
)

// ConsoleNotifier writes alerts to the structured log. Always available;
// the default channel when nothing else is configured.
type ConsoleNotifier struct {
	logger *slog.Logger
}

// NewConsoleNotifier creates a console channel on the given logger.
func NewConsoleNotifier(logger *slog.Logger) *ConsoleNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleNotifier{logger: logger}
}

func (n *ConsoleNotifier) Name() string { return "console" }

func (n *ConsoleNotifier) Notify(ctx context.Context, alert Alert) error {
	n.logger.Warn("security alert",
		"alert_id", alert.ID,
		"level", alert.LevelName,
		"entity", alert.Entity,
		"final_risk", alert.FinalRisk,
		"network_risk", alert.NetworkRisk,
		"user_risk", alert.UserRisk,
		"action", alert.Action,
	)
	return nil
}
