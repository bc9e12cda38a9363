// Package config defines the top-level configuration for arbwheel and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/arbwheel/arbwheel/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBWHEEL_* environment variables.
type Config struct {
	Binance  BinanceConfig  `toml:"binance"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Trading  TradingConfig  `toml:"trading"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// BinanceConfig holds exchange API credentials and endpoints.
type BinanceConfig struct {
	ApiKey     string `toml:"api_key"`
	ApiSecret  string `toml:"api_secret"`
	UseTestnet bool   `toml:"use_testnet"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the trade
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// TradingConfig holds the operator-set live trading parameters. It mirrors
// domain.LiveTradingConfig; the engine owns the live copy and this section
// only seeds it at startup.
type TradingConfig struct {
	Enabled               bool     `toml:"enabled"`
	TradeAmount           float64  `toml:"trade_amount"`
	MinProfitPct          float64  `toml:"min_profit_pct"`
	MaxDailyLoss          float64  `toml:"max_daily_loss"`
	MaxTotalLoss          float64  `toml:"max_total_loss"`
	StartCurrencies       []string `toml:"start_currencies"`
	MaxPathLegs           int      `toml:"max_path_legs"`
	MaxPairs              int      `toml:"max_pairs"`
	MinPairVolume24h      float64  `toml:"min_pair_volume_24h"`
	MaxOrderMin           float64  `toml:"max_order_min"`
	TakerFeeRate          float64  `toml:"taker_fee_rate"`
	MakerFeeRate          float64  `toml:"maker_fee_rate"`
	FeePolicy             string   `toml:"fee_policy"`
	MaxQuoteAge           duration `toml:"max_quote_age"`
	ScanInterval          duration `toml:"scan_interval"`
	LegTimeout            duration `toml:"leg_timeout"`
	MaxResolutionAttempts int      `toml:"max_resolution_attempts"`
	// KickThresholdPct triggers an immediate scan when a quote moves by more
	// than this percentage between ticks. Zero disables kicks.
	KickThresholdPct float64 `toml:"kick_threshold_pct"`
}

// LiveTrading converts the TOML section into the domain configuration the
// engine starts with.
func (t TradingConfig) LiveTrading() domain.LiveTradingConfig {
	starts := make([]domain.Currency, 0, len(t.StartCurrencies))
	for _, c := range t.StartCurrencies {
		starts = append(starts, domain.Currency(strings.ToUpper(strings.TrimSpace(c))))
	}
	return domain.LiveTradingConfig{
		Enabled:               t.Enabled,
		TradeAmount:           t.TradeAmount,
		MinProfitPct:          t.MinProfitPct,
		MaxDailyLoss:          t.MaxDailyLoss,
		MaxTotalLoss:          t.MaxTotalLoss,
		StartCurrencies:       starts,
		MaxPathLegs:           t.MaxPathLegs,
		MaxPairs:              t.MaxPairs,
		MinPairVolume24h:      t.MinPairVolume24h,
		MaxOrderMin:           t.MaxOrderMin,
		TakerFeeRate:          t.TakerFeeRate,
		MakerFeeRate:          t.MakerFeeRate,
		FeePolicy:             domain.FeePolicy(t.FeePolicy),
		MaxQuoteAge:           t.MaxQuoteAge.Duration,
		ScanInterval:          t.ScanInterval.Duration,
		LegTimeout:            t.LegTimeout.Duration,
		MaxResolutionAttempts: t.MaxResolutionAttempts,
	}
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Binance: BinanceConfig{
			UseTestnet: false,
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "arbwheel",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbwheel-data",
			Prefix:         "trades",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Trading: TradingConfig{
			Enabled:               false,
			TradeAmount:           100,
			MinProfitPct:          0.15,
			MaxDailyLoss:          50,
			MaxTotalLoss:          200,
			StartCurrencies:       []string{"USDT"},
			MaxPathLegs:           4,
			MaxPairs:              400,
			MinPairVolume24h:      1_000_000,
			MaxOrderMin:           25,
			TakerFeeRate:          0.0026,
			MakerFeeRate:          0.0010,
			FeePolicy:             string(domain.FeePolicyTaker),
			MaxQuoteAge:           duration{5 * time.Second},
			ScanInterval:          duration{2 * time.Second},
			LegTimeout:            duration{10 * time.Second},
			MaxResolutionAttempts: 3,
			KickThresholdPct:      0.1,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_completed", "partial_failure", "circuit_breaker", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":   true,
	"scan":   true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, scan, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Binance — credentials are required whenever orders can be placed.
	needsKeys := (c.Mode == "live" || c.Mode == "full") && c.Trading.Enabled
	if needsKeys {
		if c.Binance.ApiKey == "" || c.Binance.ApiSecret == "" {
			errs = append(errs, "binance: api_key and api_secret are required when trading is enabled in mode "+c.Mode)
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Trading — the domain validation covers the live parameters.
	if err := c.Trading.LiveTrading().Validate(); err != nil {
		errs = append(errs, "trading: "+err.Error())
	}
	if c.Trading.KickThresholdPct < 0 {
		errs = append(errs, "trading: kick_threshold_pct must not be negative")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
