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
// built-in defaults, applies COPYBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file and starts from the
// defaults. The returned Config has NOT been validated; the caller should
// invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COPYBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── PumpPortal ──
	setStr(&cfg.PumpPortal.APIKey, "COPYBOT_PUMPPORTAL_API_KEY")
	setStr(&cfg.PumpPortal.EncryptedKeyPath, "COPYBOT_PUMPPORTAL_ENCRYPTED_KEY_PATH")
	setStr(&cfg.PumpPortal.KeyPassword, "COPYBOT_PUMPPORTAL_KEY_PASSWORD")
	setStr(&cfg.PumpPortal.TradeURL, "COPYBOT_PUMPPORTAL_TRADE_URL")
	setStr(&cfg.PumpPortal.DataURL, "COPYBOT_PUMPPORTAL_DATA_URL")
	setDuration(&cfg.PumpPortal.RequestTimeout, "COPYBOT_PUMPPORTAL_REQUEST_TIMEOUT")
	setDuration(&cfg.PumpPortal.ReconnectDelay, "COPYBOT_PUMPPORTAL_RECONNECT_DELAY")

	// ── Copy ──
	setStringSlice(&cfg.Copy.Originators, "COPYBOT_COPY_ORIGINATORS")
	setStringSlice(&cfg.Copy.TokenKeys, "COPYBOT_COPY_TOKEN_KEYS")
	setFloat64(&cfg.Copy.Ratio, "COPYBOT_COPY_RATIO")
	setDuration(&cfg.Copy.Cooldown, "COPYBOT_COPY_COOLDOWN")
	setStr(&cfg.Copy.SellPolicy, "COPYBOT_COPY_SELL_POLICY")
	setStr(&cfg.Copy.FeedSellPercentage, "COPYBOT_COPY_FEED_SELL_PERCENTAGE")
	setBool(&cfg.Copy.StrictAddresses, "COPYBOT_COPY_STRICT_ADDRESSES")
	setDuration(&cfg.Copy.DedupTTL, "COPYBOT_COPY_DEDUP_TTL")

	// ── Trade ──
	setFloat64(&cfg.Trade.Slippage, "COPYBOT_TRADE_SLIPPAGE")
	setFloat64(&cfg.Trade.PriorityFee, "COPYBOT_TRADE_PRIORITY_FEE")
	setStr(&cfg.Trade.Pool, "COPYBOT_TRADE_POOL")

	// ── Retry ──
	setInt(&cfg.Retry.MaxRetries, "COPYBOT_RETRY_MAX_RETRIES")
	setDuration(&cfg.Retry.BaseDelay, "COPYBOT_RETRY_BASE_DELAY")
	setFloat64(&cfg.Retry.BackoffFactor, "COPYBOT_RETRY_BACKOFF_FACTOR")
	setDuration(&cfg.Retry.MaxDelay, "COPYBOT_RETRY_MAX_DELAY")

	// ── AutoSell ──
	setBool(&cfg.AutoSell.Enabled, "COPYBOT_AUTOSELL_ENABLED")
	setDuration(&cfg.AutoSell.InitialDelay, "COPYBOT_AUTOSELL_INITIAL_DELAY")
	setDuration(&cfg.AutoSell.SellInterval, "COPYBOT_AUTOSELL_SELL_INTERVAL")
	setDuration(&cfg.AutoSell.PollInterval, "COPYBOT_AUTOSELL_POLL_INTERVAL")
	setFloat64(&cfg.AutoSell.SellFraction, "COPYBOT_AUTOSELL_SELL_FRACTION")
	setInt(&cfg.AutoSell.MaxSellFailures, "COPYBOT_AUTOSELL_MAX_SELL_FAILURES")

	// ── Executor ──
	setInt(&cfg.Executor.QueueSize, "COPYBOT_EXECUTOR_QUEUE_SIZE")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "COPYBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "COPYBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "COPYBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "COPYBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "COPYBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "COPYBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "COPYBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "COPYBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "COPYBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "COPYBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "COPYBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "COPYBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "COPYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COPYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COPYBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COPYBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COPYBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COPYBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "COPYBOT_REDIS_KEY_PREFIX")
	setStr(&cfg.Redis.TradeChannel, "COPYBOT_REDIS_TRADE_CHANNEL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "COPYBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "COPYBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COPYBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "COPYBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COPYBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COPYBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COPYBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COPYBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "COPYBOT_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "COPYBOT_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "COPYBOT_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "COPYBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "COPYBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "COPYBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "COPYBOT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COPYBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COPYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COPYBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COPYBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "COPYBOT_MODE")
	setStr(&cfg.LogLevel, "COPYBOT_LOG_LEVEL")
}

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
