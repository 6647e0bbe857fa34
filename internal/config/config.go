// Package config defines the top-level configuration for copybot and provides
// validation helpers.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/copybot/internal/solana"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COPYBOT_* environment variables.
type Config struct {
	PumpPortal PumpPortalConfig `toml:"pumpportal"`
	Copy       CopyConfig       `toml:"copy"`
	Trade      TradeConfig      `toml:"trade"`
	Retry      RetryConfig      `toml:"retry"`
	AutoSell   AutoSellConfig   `toml:"autosell"`
	Executor   ExecutorConfig   `toml:"executor"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PumpPortalConfig holds the API credential and endpoints.
type PumpPortalConfig struct {
	APIKey           string   `toml:"api_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	TradeURL         string   `toml:"trade_url"`
	DataURL          string   `toml:"data_url"`
	RequestTimeout   duration `toml:"request_timeout"`
	ReconnectDelay   duration `toml:"reconnect_delay"`
}

// CopyConfig controls which trades are mirrored and how.
type CopyConfig struct {
	// Originators are the wallets whose trades are mirrored.
	Originators []string `toml:"originators"`
	// TokenKeys adds token-trade subscriptions for these mints.
	TokenKeys []string `toml:"token_keys"`
	// Ratio scales the mirrored SOL amount.
	Ratio    float64  `toml:"ratio"`
	Cooldown duration `toml:"cooldown"`
	// SellPolicy is "ignore" or "liquidate".
	SellPolicy         string   `toml:"sell_policy"`
	FeedSellPercentage string   `toml:"feed_sell_percentage"`
	StrictAddresses    bool     `toml:"strict_addresses"`
	DedupTTL           duration `toml:"dedup_ttl"`
}

// TradeConfig holds the per-order parameters.
type TradeConfig struct {
	Slippage    float64 `toml:"slippage"`
	PriorityFee float64 `toml:"priority_fee"`
	Pool        string  `toml:"pool"`
}

// RetryConfig holds the order submission retry policy. MaxRetries is the
// total number of attempts.
type RetryConfig struct {
	MaxRetries    int      `toml:"max_retries"`
	BaseDelay     duration `toml:"base_delay"`
	BackoffFactor float64  `toml:"backoff_factor"`
	MaxDelay      duration `toml:"max_delay"`
}

// AutoSellConfig holds the liquidation schedule.
type AutoSellConfig struct {
	Enabled         bool     `toml:"enabled"`
	InitialDelay    duration `toml:"initial_delay"`
	SellInterval    duration `toml:"sell_interval"`
	PollInterval    duration `toml:"poll_interval"`
	SellFraction    float64  `toml:"sell_fraction"`
	MaxSellFailures int      `toml:"max_sell_failures"`
}

// ExecutorConfig sizes the execution queue.
type ExecutorConfig struct {
	QueueSize int `toml:"queue_size"`
}

// PostgresConfig holds PostgreSQL connection parameters for the trade log.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	KeyPrefix    string `toml:"key_prefix"`
	TradeChannel string `toml:"trade_channel"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls moving old trade log rows to S3.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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
	APIKey      string   `toml:"api_key"`
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
		PumpPortal: PumpPortalConfig{
			TradeURL:       "https://pumpportal.fun/api/trade",
			DataURL:        "wss://pumpportal.fun/api/data",
			RequestTimeout: duration{30 * time.Second},
			ReconnectDelay: duration{5 * time.Second},
		},
		Copy: CopyConfig{
			Ratio:              0.005,
			Cooldown:           duration{2 * time.Minute},
			SellPolicy:         "ignore",
			FeedSellPercentage: "100%",
			DedupTTL:           duration{10 * time.Minute},
		},
		Trade: TradeConfig{
			Slippage:    10,
			PriorityFee: 0.0002,
			Pool:        "auto",
		},
		Retry: RetryConfig{
			MaxRetries:    3,
			BaseDelay:     duration{1 * time.Second},
			BackoffFactor: 1.5,
			MaxDelay:      duration{30 * time.Second},
		},
		AutoSell: AutoSellConfig{
			Enabled:         true,
			InitialDelay:    duration{2 * time.Minute},
			SellInterval:    duration{5 * time.Minute},
			PollInterval:    duration{30 * time.Second},
			SellFraction:    0.2,
			MaxSellFailures: 10,
		},
		Executor: ExecutorConfig{
			QueueSize: 1024,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "copybot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			KeyPrefix:    "copybot:",
			TradeChannel: "copybot:trades",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "copybot-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval:      duration{24 * time.Hour},
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"position_dropped", "position_closed"},
		},
		Mode:     "copy",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"copy":    true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSellPolicies = map[string]bool{
	"ignore":    true,
	"liquidate": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: copy, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// PumpPortal credential is only needed when orders are sent.
	if mode == "copy" {
		if c.PumpPortal.APIKey == "" && c.PumpPortal.EncryptedKeyPath == "" {
			errs = append(errs, "pumpportal: either api_key or encrypted_key_path must be set for mode copy")
		}
		if c.PumpPortal.EncryptedKeyPath != "" && c.PumpPortal.KeyPassword == "" {
			errs = append(errs, "pumpportal: key_password is required when encrypted_key_path is set")
		}
		if c.PumpPortal.TradeURL == "" {
			errs = append(errs, "pumpportal: trade_url must not be empty")
		}
	}
	if c.PumpPortal.DataURL == "" {
		errs = append(errs, "pumpportal: data_url must not be empty")
	}
	if c.PumpPortal.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "pumpportal: reconnect_delay must be > 0")
	}

	// Copy
	if len(c.Copy.Originators) == 0 && (mode == "copy" || len(c.Copy.TokenKeys) == 0) {
		errs = append(errs, "copy: at least one originator must be set")
	}
	for _, o := range c.Copy.Originators {
		if err := solana.ValidateWallet(o); err != nil {
			errs = append(errs, fmt.Sprintf("copy: originator %q: %v", o, err))
		}
	}
	for _, k := range c.Copy.TokenKeys {
		if err := solana.ValidateAddress(k); err != nil {
			errs = append(errs, fmt.Sprintf("copy: token key %q: %v", k, err))
		}
	}
	if c.Copy.Ratio < 0 {
		errs = append(errs, "copy: ratio must be >= 0")
	}
	if c.Copy.Cooldown.Duration < 0 {
		errs = append(errs, "copy: cooldown must be >= 0")
	}
	if !validSellPolicies[c.Copy.SellPolicy] {
		errs = append(errs, fmt.Sprintf("copy: unknown sell_policy %q (valid: ignore, liquidate)", c.Copy.SellPolicy))
	}
	if c.Copy.SellPolicy == "liquidate" && !validPercentage(c.Copy.FeedSellPercentage) {
		errs = append(errs, fmt.Sprintf("copy: feed_sell_percentage %q must be a percentage in (0, 100]", c.Copy.FeedSellPercentage))
	}

	// Trade
	if c.Trade.Slippage < 0 {
		errs = append(errs, "trade: slippage must be >= 0")
	}
	if c.Trade.PriorityFee < 0 {
		errs = append(errs, "trade: priority_fee must be >= 0")
	}
	if c.Trade.Pool == "" {
		errs = append(errs, "trade: pool must not be empty")
	}

	// Retry
	if c.Retry.MaxRetries < 1 {
		errs = append(errs, "retry: max_retries must be >= 1")
	}
	if c.Retry.BaseDelay.Duration < 0 {
		errs = append(errs, "retry: base_delay must be >= 0")
	}
	if c.Retry.BackoffFactor < 1 {
		errs = append(errs, "retry: backoff_factor must be >= 1")
	}

	// AutoSell
	if c.AutoSell.Enabled {
		if c.AutoSell.SellFraction <= 0 || c.AutoSell.SellFraction > 1 {
			errs = append(errs, "autosell: sell_fraction must be in (0, 1]")
		}
		if c.AutoSell.SellInterval.Duration <= 0 {
			errs = append(errs, "autosell: sell_interval must be > 0")
		}
		if c.AutoSell.PollInterval.Duration <= 0 {
			errs = append(errs, "autosell: poll_interval must be > 0")
		}
		if c.AutoSell.InitialDelay.Duration < 0 {
			errs = append(errs, "autosell: initial_delay must be >= 0")
		}
		if c.AutoSell.MaxSellFailures < 0 {
			errs = append(errs, "autosell: max_sell_failures must be >= 0")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Archive
	if c.Archive.Enabled {
		if !c.Postgres.Enabled || !c.S3.Enabled {
			errs = append(errs, "archive: requires postgres.enabled and s3.enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
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

func validPercentage(s string) bool {
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64)
	return err == nil && v > 0 && v <= 100
}
