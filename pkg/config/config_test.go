package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercebase/billing/pkg/observability"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Gateway.Provider)
	assert.Equal(t, "TND", cfg.Ledger.DefaultCurrency)
	assert.True(t, cfg.Ledger.DefaultFeeRate.Equal(decimal.RequireFromString("0.0027")))
	assert.True(t, cfg.Ledger.MinimumTopUp.Equal(decimal.NewFromInt(10)))
	assert.Nil(t, cfg.Notify.KafkaBrokers)
	assert.True(t, cfg.Reconcile.Enabled)
	assert.Equal(t, "@every 5m", cfg.Reconcile.Schedule)
	assert.Equal(t, observability.InfoLevel, cfg.LogLevel)
	assert.True(t, cfg.MetricsEnabled)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("BILLING_PORT", "8888")
	t.Setenv("BILLING_POSTGRES_URL", "postgres://localhost/billing")
	t.Setenv("BILLING_GATEWAY_PROVIDER", "stripe")
	t.Setenv("BILLING_GATEWAY_API_KEY", "sk_test")
	t.Setenv("BILLING_GATEWAY_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("BILLING_DEFAULT_FEE_RATE", "0.005")
	t.Setenv("BILLING_KAFKA_BROKERS", "broker-1:9092, broker-2:9092")
	t.Setenv("BILLING_RECONCILE_STALE_AFTER", "30m")
	t.Setenv("BILLING_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8888", cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/billing", cfg.Database.URL)
	assert.Equal(t, "stripe", cfg.Gateway.Provider)
	assert.True(t, cfg.Ledger.DefaultFeeRate.Equal(decimal.RequireFromString("0.005")))
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Notify.KafkaBrokers)
	assert.Equal(t, 30*time.Minute, cfg.Reconcile.StaleThreshold)
	assert.Equal(t, observability.DebugLevel, cfg.LogLevel)
}

func TestLoadConfigProviderNeedsCredentials(t *testing.T) {
	t.Setenv("BILLING_GATEWAY_PROVIDER", "stripe")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadConfig()
		require.NoError(t, err)
		return cfg
	}

	t.Run("same ports rejected", func(t *testing.T) {
		cfg := base()
		cfg.Server.HealthPort = cfg.Server.Port
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative fee rate rejected", func(t *testing.T) {
		cfg := base()
		cfg.Ledger.DefaultFeeRate = decimal.RequireFromString("-0.01")
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero minimum top-up rejected", func(t *testing.T) {
		cfg := base()
		cfg.Ledger.MinimumTopUp = decimal.Zero
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad currency rejected", func(t *testing.T) {
		cfg := base()
		cfg.Ledger.DefaultCurrency = "DINAR"
		assert.Error(t, cfg.Validate())
	})

	t.Run("tight stale threshold rejected", func(t *testing.T) {
		cfg := base()
		cfg.Reconcile.StaleThreshold = 10 * time.Second
		assert.Error(t, cfg.Validate())
	})
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, observability.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, observability.WarnLevel, parseLogLevel("WARNING"))
	assert.Equal(t, observability.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, observability.InfoLevel, parseLogLevel("unknown"))
}
