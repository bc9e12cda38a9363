package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbwheel/arbwheel/internal/domain"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeTOML(t, `
mode = "scan"
log_level = "debug"

[trading]
trade_amount = 250.0
scan_interval = "500ms"
start_currencies = ["usdt", "btc"]

[redis]
addr = "redis.internal:6379"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "scan", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 250.0, cfg.Trading.TradeAmount)
	assert.Equal(t, 500*time.Millisecond, cfg.Trading.ScanInterval.Duration)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	// Untouched sections keep their defaults.
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, 0.0026, cfg.Trading.TakerFeeRate)

	require.NoError(t, cfg.Validate())
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeTOML(t, `
[trading]
trade_amount = 250.0
`)
	t.Setenv("ARBWHEEL_TRADING_TRADE_AMOUNT", "42.5")
	t.Setenv("ARBWHEEL_TRADING_LEG_TIMEOUT", "3s")
	t.Setenv("ARBWHEEL_TRADING_START_CURRENCIES", "USDT, EUR")
	t.Setenv("ARBWHEEL_MODE", "server")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 42.5, cfg.Trading.TradeAmount)
	assert.Equal(t, 3*time.Second, cfg.Trading.LegTimeout.Duration)
	assert.Equal(t, []string{"USDT", "EUR"}, cfg.Trading.StartCurrencies)
	assert.Equal(t, "server", cfg.Mode)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.Trading.TradeAmount = -5
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "turbo"`)
	assert.Contains(t, err.Error(), "trade_amount")
	assert.Contains(t, err.Error(), "redis: addr")
}

func TestValidateRequiresKeysForLiveTrading(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"
	cfg.Trading.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binance: api_key")

	cfg.Binance.ApiKey = "k"
	cfg.Binance.ApiSecret = "s"
	require.NoError(t, cfg.Validate())
}

func TestLiveTradingConversion(t *testing.T) {
	cfg := Defaults()
	cfg.Trading.StartCurrencies = []string{" usdt ", "btc"}
	cfg.Trading.FeePolicy = "maker_eligible"

	live := cfg.Trading.LiveTrading()
	assert.Equal(t, []domain.Currency{"USDT", "BTC"}, live.StartCurrencies)
	assert.Equal(t, domain.FeePolicyMakerEligible, live.FeePolicy)
	assert.Equal(t, 2*time.Second, live.ScanInterval)
	require.NoError(t, live.Validate())
}
