// Package metrics provides Prometheus instrumentation for the daemon.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActionsTotal counts response actions by action type.
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netsentry",
			Name:      "response_actions_total",
			Help:      "Total response actions taken, by action type.",
		},
		[]string{"action"},
	)

	// BlocksTotal counts successful entity blocks.
	BlocksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "netsentry",
			Name:      "blocks_total",
			Help:      "Total entities blocked at the network boundary.",
		},
	)

	// UnblocksTotal counts successful unblocks (manual and expiry-driven).
	UnblocksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "netsentry",
			Name:      "unblocks_total",
			Help:      "Total entities unblocked.",
		},
	)

	// AlertsSentTotal counts alerts admitted by the limiter and handed to
	// the notification transport.
	AlertsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "netsentry",
			Name:      "alerts_sent_total",
			Help:      "Total alert notifications admitted by the rate limiter.",
		},
	)

	// AlertsSuppressedTotal counts alerts suppressed by the hourly limiter.
	AlertsSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "netsentry",
			Name:      "alerts_suppressed_total",
			Help:      "Total alert notifications suppressed by the rate limiter.",
		},
	)

	// RateLimitsTotal counts entities placed under traffic rate limiting.
	RateLimitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "netsentry",
			Name:      "rate_limits_total",
			Help:      "Total entities placed under traffic rate limiting.",
		},
	)

	// CurrentlyBlocked tracks the number of entities with an active block.
	CurrentlyBlocked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "netsentry",
			Name:      "currently_blocked",
			Help:      "Number of entities currently blocked.",
		},
	)

	// CyclesTotal counts completed monitoring cycles.
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "netsentry",
			Name:      "monitoring_cycles_total",
			Help:      "Total completed monitoring cycles.",
		},
	)

	// CycleDuration observes wall time per monitoring cycle.
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "netsentry",
			Name:      "monitoring_cycle_duration_seconds",
			Help:      "Monitoring cycle duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// SignalFetchErrorsTotal counts fetch failures by signal source.
	SignalFetchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netsentry",
			Name:      "signal_fetch_errors_total",
			Help:      "Total signal source fetch failures, by source.",
		},
		[]string{"source"},
	)

	// NotifyDeliveriesTotal counts notification deliveries by sink and result.
	NotifyDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netsentry",
			Name:      "notify_deliveries_total",
			Help:      "Total notification delivery attempts, by sink and result.",
		},
		[]string{"sink", "result"},
	)

	// ActiveWebSocketClients tracks connected event stream clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "netsentry",
			Name:      "websocket_clients",
			Help:      "Number of connected WebSocket event stream clients.",
		},
	)

	// FirewallCallsTotal counts firewall collaborator calls by op and result.
	FirewallCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netsentry",
			Name:      "firewall_calls_total",
			Help:      "Total firewall collaborator calls, by operation and result.",
		},
		[]string{"op", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		ActionsTotal,
		BlocksTotal,
		UnblocksTotal,
		AlertsSentTotal,
		AlertsSuppressedTotal,
		RateLimitsTotal,
		CurrentlyBlocked,
		CyclesTotal,
		CycleDuration,
		SignalFetchErrorsTotal,
		NotifyDeliveriesTotal,
		ActiveWebSocketClients,
		FirewallCallsTotal,
	)
}

// Handler returns the Prometheus scrape handler wrapped for gin.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
