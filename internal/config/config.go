// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Monitoring loop
	MonitoringInterval time.Duration
	BlockTimeout       time.Duration
	MaxAlertsPerHour   int
	AlertThreshold     float64

	// Network telemetry (InfluxDB)
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// Behavior logs (GCS)
	LogBucket          string
	GCSCredentialsFile string

	// Anomaly model (optional ONNX bundle; baseline scorer when unset)
	ModelDir string

	// Firewall collaborator
	FirewallURL   string
	FirewallToken string

	// Notifications
	WebhookURL    string
	WebhookSecret string
	SMTPHost      string
	SMTPPort      int
	SMTPFrom      string
	SMTPPassword  string
	SMTPTo        []string

	// Security
	AdminToken   string
	RateLimitRPM int

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort      = "8080"
	DefaultEnv       = "development"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	DefaultMonitoringInterval = 60 * time.Second
	DefaultBlockTimeout       = 10 * time.Minute
	DefaultMaxAlertsPerHour   = 10
	DefaultAlertThreshold     = 0.4
	DefaultRateLimitRPM       = 60
	DefaultSMTPPort           = 587
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:      getEnv("PORT", DefaultPort),
		Env:       getEnv("ENV", DefaultEnv),
		LogLevel:  getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat: getEnv("LOG_FORMAT", DefaultLogFormat),

		DatabaseURL: os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set

		MonitoringInterval: getEnvDuration("MONITORING_INTERVAL", DefaultMonitoringInterval),
		BlockTimeout:       getEnvDuration("BLOCK_TIMEOUT", DefaultBlockTimeout),
		MaxAlertsPerHour:   int(getEnvInt64("MAX_ALERTS_PER_HOUR", DefaultMaxAlertsPerHour)),
		AlertThreshold:     getEnvFloat("ALERT_THRESHOLD", DefaultAlertThreshold),

		InfluxURL:    os.Getenv("INFLUX_URL"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    getEnv("INFLUX_ORG", "netsentry"),
		InfluxBucket: getEnv("INFLUX_BUCKET", "netflow"),

		LogBucket:          os.Getenv("LOG_BUCKET"),
		GCSCredentialsFile: os.Getenv("GCS_CREDENTIALS_FILE"),

		ModelDir: os.Getenv("MODEL_DIR"),

		FirewallURL:   os.Getenv("FIREWALL_URL"),
		FirewallToken: os.Getenv("FIREWALL_TOKEN"),

		WebhookURL:    os.Getenv("WEBHOOK_URL"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
		SMTPHost:      os.Getenv("SMTP_HOST"),
		SMTPPort:      int(getEnvInt64("SMTP_PORT", DefaultSMTPPort)),
		SMTPFrom:      os.Getenv("SMTP_FROM"),
		SMTPPassword:  os.Getenv("SMTP_PASSWORD"),
		SMTPTo:        splitList(os.Getenv("SMTP_TO")),

		AdminToken:   os.Getenv("ADMIN_TOKEN"),
		RateLimitRPM: int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent.
func (c *Config) Validate() error {
	if c.MonitoringInterval <= 0 {
		return fmt.Errorf("MONITORING_INTERVAL must be positive, got %s", c.MonitoringInterval)
	}
	if c.BlockTimeout <= 0 {
		return fmt.Errorf("BLOCK_TIMEOUT must be positive, got %s", c.BlockTimeout)
	}
	if c.MaxAlertsPerHour <= 0 {
		return fmt.Errorf("MAX_ALERTS_PER_HOUR must be positive, got %d", c.MaxAlertsPerHour)
	}
	if c.AlertThreshold < 0 || c.AlertThreshold > 1 {
		return fmt.Errorf("ALERT_THRESHOLD must be in [0,1], got %g", c.AlertThreshold)
	}
	if c.InfluxURL != "" && c.InfluxToken == "" {
		return fmt.Errorf("INFLUX_TOKEN is required when INFLUX_URL is set")
	}
	if c.FirewallURL != "" && c.FirewallToken == "" {
		return fmt.Errorf("FIREWALL_TOKEN is required when FIREWALL_URL is set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
