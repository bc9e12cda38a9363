package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBWHEEL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBWHEEL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Binance ──
	setStr(&cfg.Binance.ApiKey, "ARBWHEEL_BINANCE_API_KEY")
	setStr(&cfg.Binance.ApiSecret, "ARBWHEEL_BINANCE_API_SECRET")
	setBool(&cfg.Binance.UseTestnet, "ARBWHEEL_BINANCE_USE_TESTNET")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARBWHEEL_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBWHEEL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBWHEEL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBWHEEL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBWHEEL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBWHEEL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBWHEEL_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBWHEEL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBWHEEL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBWHEEL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARBWHEEL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBWHEEL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBWHEEL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBWHEEL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBWHEEL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBWHEEL_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBWHEEL_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBWHEEL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBWHEEL_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBWHEEL_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "ARBWHEEL_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "ARBWHEEL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBWHEEL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBWHEEL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBWHEEL_S3_FORCE_PATH_STYLE")

	// ── Trading ──
	setBool(&cfg.Trading.Enabled, "ARBWHEEL_TRADING_ENABLED")
	setFloat64(&cfg.Trading.TradeAmount, "ARBWHEEL_TRADING_TRADE_AMOUNT")
	setFloat64(&cfg.Trading.MinProfitPct, "ARBWHEEL_TRADING_MIN_PROFIT_PCT")
	setFloat64(&cfg.Trading.MaxDailyLoss, "ARBWHEEL_TRADING_MAX_DAILY_LOSS")
	setFloat64(&cfg.Trading.MaxTotalLoss, "ARBWHEEL_TRADING_MAX_TOTAL_LOSS")
	setStringSlice(&cfg.Trading.StartCurrencies, "ARBWHEEL_TRADING_START_CURRENCIES")
	setInt(&cfg.Trading.MaxPathLegs, "ARBWHEEL_TRADING_MAX_PATH_LEGS")
	setInt(&cfg.Trading.MaxPairs, "ARBWHEEL_TRADING_MAX_PAIRS")
	setFloat64(&cfg.Trading.MinPairVolume24h, "ARBWHEEL_TRADING_MIN_PAIR_VOLUME_24H")
	setFloat64(&cfg.Trading.MaxOrderMin, "ARBWHEEL_TRADING_MAX_ORDER_MIN")
	setFloat64(&cfg.Trading.TakerFeeRate, "ARBWHEEL_TRADING_TAKER_FEE_RATE")
	setFloat64(&cfg.Trading.MakerFeeRate, "ARBWHEEL_TRADING_MAKER_FEE_RATE")
	setStr(&cfg.Trading.FeePolicy, "ARBWHEEL_TRADING_FEE_POLICY")
	setDuration(&cfg.Trading.MaxQuoteAge, "ARBWHEEL_TRADING_MAX_QUOTE_AGE")
	setDuration(&cfg.Trading.ScanInterval, "ARBWHEEL_TRADING_SCAN_INTERVAL")
	setDuration(&cfg.Trading.LegTimeout, "ARBWHEEL_TRADING_LEG_TIMEOUT")
	setInt(&cfg.Trading.MaxResolutionAttempts, "ARBWHEEL_TRADING_MAX_RESOLUTION_ATTEMPTS")
	setFloat64(&cfg.Trading.KickThresholdPct, "ARBWHEEL_TRADING_KICK_THRESHOLD_PCT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBWHEEL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBWHEEL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBWHEEL_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBWHEEL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBWHEEL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBWHEEL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBWHEEL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBWHEEL_MODE")
	setStr(&cfg.LogLevel, "ARBWHEEL_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
