package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/commercebase/billing/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Gateway   GatewayConfig
	Ledger    LedgerConfig
	Notify    NotifyConfig
	Reconcile ReconcileConfig

	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration. An empty URL selects the
// in-memory store (development/offline mode).
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
}

// GatewayConfig holds payment gateway configuration. An empty provider
// selects offline mode: top-ups complete immediately with a synthetic
// reference and no external calls are made.
type GatewayConfig struct {
	Provider      string
	APIKey        string
	WebhookSecret string
}

// LedgerConfig holds ledger business defaults
type LedgerConfig struct {
	DefaultCurrency            string
	DefaultFeeRate             decimal.Decimal
	DefaultLowBalanceThreshold decimal.Decimal
	MinimumTopUp               decimal.Decimal
}

// NotifyConfig holds notification dispatch configuration. Without brokers
// notifications are written to the log.
type NotifyConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
}

// ReconcileConfig holds the stale-pending sweep configuration
type ReconcileConfig struct {
	Enabled        bool
	Schedule       string
	StaleThreshold time.Duration
	BatchSize      int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("BILLING_HOST", "0.0.0.0"),
			Port:            getEnv("BILLING_PORT", "8080"),
			ReadTimeout:     getEnvDuration("BILLING_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("BILLING_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("BILLING_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("BILLING_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("BILLING_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:         getEnv("BILLING_POSTGRES_URL", ""),
			MaxConns:    getEnvInt("BILLING_POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("BILLING_POSTGRES_MIN_CONNS", 2),
			Timeout:     getEnvDuration("BILLING_POSTGRES_TIMEOUT", 5*time.Second),
			MaxLifetime: getEnvDuration("BILLING_POSTGRES_MAX_LIFETIME", 30*time.Minute),
		},
		Gateway: GatewayConfig{
			Provider:      getEnv("BILLING_GATEWAY_PROVIDER", ""),
			APIKey:        getEnv("BILLING_GATEWAY_API_KEY", ""),
			WebhookSecret: getEnv("BILLING_GATEWAY_WEBHOOK_SECRET", ""),
		},
		Ledger: LedgerConfig{
			DefaultCurrency:            getEnv("BILLING_DEFAULT_CURRENCY", "TND"),
			DefaultFeeRate:             getEnvDecimal("BILLING_DEFAULT_FEE_RATE", "0.0027"),
			DefaultLowBalanceThreshold: getEnvDecimal("BILLING_LOW_BALANCE_THRESHOLD", "10"),
			MinimumTopUp:               getEnvDecimal("BILLING_MINIMUM_TOPUP", "10"),
		},
		Notify: NotifyConfig{
			KafkaBrokers: getEnvList("BILLING_KAFKA_BROKERS"),
			KafkaTopic:   getEnv("BILLING_KAFKA_TOPIC", "billing-notifications"),
		},
		Reconcile: ReconcileConfig{
			Enabled:        getEnvBool("BILLING_RECONCILE_ENABLED", true),
			Schedule:       getEnv("BILLING_RECONCILE_SCHEDULE", "@every 5m"),
			StaleThreshold: getEnvDuration("BILLING_RECONCILE_STALE_AFTER", time.Hour),
			BatchSize:      getEnvInt("BILLING_RECONCILE_BATCH_SIZE", 100),
		},
		LogLevel:       parseLogLevel(getEnv("BILLING_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("BILLING_METRICS_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Gateway.Provider != "" {
		if c.Gateway.APIKey == "" {
			return fmt.Errorf("gateway API key is required when a provider is configured")
		}
		if c.Gateway.WebhookSecret == "" {
			return fmt.Errorf("gateway webhook secret is required when a provider is configured")
		}
	}

	if c.Ledger.DefaultFeeRate.IsNegative() {
		return fmt.Errorf("default fee rate must not be negative")
	}
	if !c.Ledger.MinimumTopUp.IsPositive() {
		return fmt.Errorf("minimum top-up must be positive")
	}
	if len(c.Ledger.DefaultCurrency) != 3 {
		return fmt.Errorf("default currency must be a 3-letter ISO code")
	}

	if c.Reconcile.Enabled && c.Reconcile.StaleThreshold < time.Minute {
		return fmt.Errorf("reconcile stale threshold must be at least one minute")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvDecimal returns a decimal environment variable or a default
func getEnvDecimal(key, defaultValue string) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	d, _ := decimal.NewFromString(defaultValue)
	return d
}

// getEnvList returns a comma-separated environment variable as a slice
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
