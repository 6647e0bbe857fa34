package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/copybot/internal/blob/s3"
	"github.com/alanyoungcy/copybot/internal/cache/redis"
	"github.com/alanyoungcy/copybot/internal/config"
	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/notify"
	"github.com/alanyoungcy/copybot/internal/server/handler"
	"github.com/alanyoungcy/copybot/internal/store/postgres"
)

// archivePartSize is the multipart chunk size for archive uploads.
const archivePartSize = 8 * 1024 * 1024

// Dependencies bundles the optional backends. Every field except Notifier and
// Checks may be nil when its backend is disabled.
type Dependencies struct {
	TradeLogStore domain.TradeLogStore
	CooldownStore domain.CooldownStore
	EventBus      domain.EventBus
	Archiver      domain.Archiver
	Notifier      *notify.Notifier

	// Checks are the health probes for wired backends.
	Checks map[string]handler.Check
}

// Wire constructs the enabled backends from cfg and returns them together
// with a cleanup function that should be called on shutdown to release
// resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: map[string]handler.Check{}}
	var pgStore *postgres.TradeLogStore

	// --- PostgreSQL trade log ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.Open(ctx, postgres.Options{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
			Migrate:  cfg.Postgres.RunMigrations,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		pgStore = pgClient.TradeLog()
		deps.TradeLogStore = pgStore
		deps.Checks["postgres"] = pgClient.Ping
		logger.InfoContext(ctx, "wire: postgres trade log enabled")
	}

	// --- Redis cooldowns and trade events ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		// Keys live well past the window so a restart still honours it.
		deps.CooldownStore = redis.NewCooldownStore(redisClient, 4*cfg.Copy.Cooldown.Duration)
		deps.EventBus = redis.NewEventBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
		logger.InfoContext(ctx, "wire: redis cooldowns and trade events enabled")
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Checks["s3"] = s3Client.Health

		if pgStore != nil {
			deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client, archivePartSize), pgStore)
		}
	}

	// --- Notifications ---
	deps.Notifier = notify.New(notify.Config{
		TelegramToken:     cfg.Notify.TelegramToken,
		TelegramChatID:    cfg.Notify.TelegramChatID,
		DiscordWebhookURL: cfg.Notify.DiscordWebhookURL,
		Events:            cfg.Notify.Events,
	}, logger)

	return deps, cleanup, nil
}
