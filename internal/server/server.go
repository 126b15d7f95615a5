// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/rvail/netsentry/internal/behavior"
	"github.com/rvail/netsentry/internal/config"
	"github.com/rvail/netsentry/internal/firewall"
	"github.com/rvail/netsentry/internal/health"
	"github.com/rvail/netsentry/internal/idgen"
	"github.com/rvail/netsentry/internal/logging"
	"github.com/rvail/netsentry/internal/metrics"
	"github.com/rvail/netsentry/internal/monitor"
	"github.com/rvail/netsentry/internal/netsignal"
	"github.com/rvail/netsentry/internal/notify"
	"github.com/rvail/netsentry/internal/ratelimit"
	"github.com/rvail/netsentry/internal/realtime"
	"github.com/rvail/netsentry/internal/response"
	"github.com/rvail/netsentry/internal/traces"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and the monitoring daemon's dependencies.
type Server struct {
	cfg         *config.Config
	controller  *response.Controller
	agent       *monitor.Agent
	hub         *realtime.Hub
	netSource   netsignal.Source
	userSource  behavior.Source
	rateLimiter *ratelimit.Limiter
	healthReg   *health.Registry
	db          *sql.DB // nil if using in-memory audit store

	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run
	tracesShutdown func(context.Context) error

	closeSources func() // releases telemetry clients on shutdown

	// Health state
	ready atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithNetSource overrides the network telemetry source (for testing).
func WithNetSource(src netsignal.Source) Option {
	return func(s *Server) {
		s.netSource = src
	}
}

// WithUserSource overrides the behavior log source (for testing).
func WithUserSource(src behavior.Source) Option {
	return func(s *Server) {
		s.userSource = src
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	// Apply options first (may set sources/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Audit storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var store response.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		store = response.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL audit storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		store = response.NewMemoryStore()
		s.logger.Info("using in-memory audit storage (records will not persist)")
	}

	// Firewall collaborator
	var fw firewall.Firewall
	if cfg.FirewallURL != "" {
		fw = firewall.NewHTTPFirewall(cfg.FirewallURL, cfg.FirewallToken)
		s.logger.Info("firewall enforcement enabled", "url", cfg.FirewallURL)
	} else {
		fw = firewall.NewMemoryFirewall()
		s.logger.Info("firewall enforcement simulated in-memory")
	}

	// Notification sinks: console always, webhook and SMTP when configured.
	sinks := []notify.Notifier{notify.NewConsoleNotifier(s.logger)}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookSecret))
		s.logger.Info("webhook notifications enabled")
	}
	if cfg.SMTPHost != "" && cfg.SMTPFrom != "" && len(cfg.SMTPTo) > 0 {
		sinks = append(sinks, notify.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPPassword, cfg.SMTPTo))
		s.logger.Info("email notifications enabled", "recipients", len(cfg.SMTPTo))
	}
	notifier := notify.NewMulti(s.logger, sinks...)

	// Realtime event stream
	s.hub = realtime.NewHub(s.logger)

	// Response controller
	ctrlCfg := response.DefaultConfig()
	ctrlCfg.BlockTimeout = cfg.BlockTimeout
	ctrlCfg.MaxAlertsPerHr = cfg.MaxAlertsPerHour
	ctrlCfg.AlertThreshold = cfg.AlertThreshold
	s.controller = response.NewController(ctrlCfg, fw, notifier,
		response.WithLogger(s.logger),
		response.WithStore(store),
		response.WithEventHook(s.hub.Broadcast),
	)

	// Telemetry sources (unless injected)
	var closers []func()
	if s.netSource == nil {
		if cfg.InfluxURL != "" {
			src := netsignal.NewInfluxSource(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
			closers = append(closers, src.Close)
			s.netSource = src
			s.logger.Info("network telemetry from InfluxDB", "url", cfg.InfluxURL, "bucket", cfg.InfluxBucket)
		} else {
			s.netSource = netsignal.NewStaticSource()
			s.logger.Warn("no INFLUX_URL set, network telemetry disabled")
		}
	}
	if s.userSource == nil {
		if cfg.LogBucket != "" {
			src, err := behavior.NewObjectLogSource(ctx, cfg.LogBucket, cfg.GCSCredentialsFile)
			if err != nil {
				return nil, fmt.Errorf("failed to open behavior log source: %w", err)
			}
			closers = append(closers, func() { _ = src.Close() })
			s.userSource = src
			s.logger.Info("behavior logs from GCS", "bucket", cfg.LogBucket)
		} else {
			s.userSource = behavior.NewStaticSource()
			s.logger.Warn("no LOG_BUCKET set, behavior analytics disabled")
		}
	}
	s.closeSources = func() {
		for _, c := range closers {
			c()
		}
	}

	// Anomaly scorer: trained model when a bundle is deployed, else baseline.
	var scorer behavior.AnomalyScorer = behavior.BaselineScorer{}
	if cfg.ModelDir != "" {
		model, err := behavior.LoadModelScorer(cfg.ModelDir)
		if err != nil {
			s.logger.Warn("failed to load anomaly model, using baseline scorer", "error", err)
		} else {
			scorer = model
			s.logger.Info("anomaly model loaded", "dir", cfg.ModelDir)
		}
	}

	// Monitoring agent
	s.agent = monitor.New(cfg.MonitoringInterval, s.netSource, s.userSource, scorer, s.controller,
		monitor.WithLogger(s.logger))

	// Health checks
	s.healthReg = health.NewRegistry()
	if s.db != nil {
		s.healthReg.Register("database", health.Database(s.db))
	}
	s.healthReg.Register("monitor", health.CycleFreshness(s.agent, nil))

	// Tracing
	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.tracesShutdown = shutdown

	// Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Rate limiting
	limCfg := ratelimit.DefaultConfig()
	limCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(limCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// adminAuthMiddleware guards mutating operator endpoints.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminToken == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   "admin_disabled",
				"message": "ADMIN_TOKEN is not configured",
			})
			return
		}
		if c.GetHeader("Authorization") != "Bearer "+s.cfg.AdminToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid or missing admin token",
			})
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time event streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	{
		v1.GET("/status", s.statusHandler)
		v1.GET("/blocked", s.blockedHandler)
		v1.GET("/alerts", s.alertsHandler)
		v1.GET("/actions", s.actionsHandler)

		admin := v1.Group("", s.adminAuthMiddleware())
		admin.DELETE("/blocked/:entity", s.unblockHandler)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "NetSentry",
		"description": "Risk fusion and graduated response controller",
		"version":     "0.1.0",
	})
}

func (s *Server) statusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"monitoring": gin.H{
			"running":   s.agent.Running(),
			"interval":  s.agent.Interval().String(),
			"lastCycle": s.agent.LastCycle(),
		},
		"statistics": s.controller.Statistics(),
		"stream":     s.hub.Stats(),
	})
}

func (s *Server) blockedHandler(c *gin.Context) {
	entries := s.controller.Blocked()
	c.JSON(http.StatusOK, gin.H{
		"count":   len(entries),
		"blocked": entries,
	})
}

func (s *Server) alertsHandler(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			limit = n
		}
	}
	alerts := s.controller.Alerts(limit)
	c.JSON(http.StatusOK, gin.H{
		"count":  len(alerts),
		"alerts": alerts,
	})
}

func (s *Server) actionsHandler(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			limit = n
		}
	}
	records, err := s.controller.Actions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage_error",
			"message": "Failed to read action records",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"actions": records,
	})
}

func (s *Server) unblockHandler(c *gin.Context) {
	entity := c.Param("entity")

	removed, err := s.controller.Unblock(c.Request.Context(), entity)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "unblock_failed",
			"message": err.Error(),
			"entity":  entity,
		})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "not_blocked",
			"entity": entity,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"unblocked": true,
		"entity":    entity,
	})
}

func parsePositiveInt(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background loops, blocking until a
// shutdown signal, server error, or context cancellation.
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub and monitoring loop
	go s.hub.Run(runCtx)
	go s.agent.Start(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the HTTP server and background loops.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, monitor)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.agent.Stop()

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.closeSources != nil {
		s.closeSources()
		s.logger.Info("telemetry clients closed")
	}

	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
