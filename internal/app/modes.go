package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/copybot/internal/admission"
	"github.com/alanyoungcy/copybot/internal/config"
	"github.com/alanyoungcy/copybot/internal/crypto"
	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/engine"
	"github.com/alanyoungcy/copybot/internal/executor"
	"github.com/alanyoungcy/copybot/internal/feed"
	"github.com/alanyoungcy/copybot/internal/obs"
	"github.com/alanyoungcy/copybot/internal/pipeline"
	"github.com/alanyoungcy/copybot/internal/platform/pumpportal"
	"github.com/alanyoungcy/copybot/internal/position"
	"github.com/alanyoungcy/copybot/internal/server"
	"github.com/alanyoungcy/copybot/internal/server/handler"
	"github.com/alanyoungcy/copybot/internal/signal"
)

const (
	recentTrades     = 512
	tradeLogBuffer   = 1024
	shutdownTimeout  = 5 * time.Second
	cooldownPruneAge = 4
)

// CopyMode mirrors originator buys, runs the liquidation schedule and
// records every attempt.
func (a *App) CopyMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting copy mode")
	cfg := a.cfg

	apiKey, err := crypto.LoadSecret(crypto.SecretConfig{
		Raw:           cfg.PumpPortal.APIKey,
		EncryptedPath: cfg.PumpPortal.EncryptedKeyPath,
		Password:      cfg.PumpPortal.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("copy mode: load api key: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	metrics := obs.NewMetrics()

	client := pumpportal.NewTradeClient(cfg.PumpPortal.TradeURL, apiKey, cfg.PumpPortal.RequestTimeout.Duration)
	submitter := executor.NewSubmitter(client,
		executor.WithMaxRetries(cfg.Retry.MaxRetries),
		executor.WithRetryDelay(cfg.Retry.BaseDelay.Duration),
		executor.WithBackoffFactor(cfg.Retry.BackoffFactor),
		executor.WithMaxDelay(cfg.Retry.MaxDelay.Duration),
		executor.WithAttemptHook(metrics.ObserveAttempt),
	)
	queue := executor.NewSerializer(cfg.Executor.QueueSize, a.logger, executor.WithTaskHook(metrics.ObserveTask))
	g.Go(func() error { return queue.Run(ctx) })

	cooldowns := deps.CooldownStore
	if cooldowns == nil {
		mem := admission.NewMemoryStore()
		cooldowns = mem
		g.Go(func() error { return a.pruneCooldowns(ctx, mem, cfg.Copy.Cooldown.Duration) })
	}
	adm := admission.New(cfg.Copy.Cooldown.Duration, cooldowns, a.logger)

	book := position.NewBook(position.Policy{
		InitialDelay: cfg.AutoSell.InitialDelay.Duration,
		SellInterval: cfg.AutoSell.SellInterval.Duration,
		SellFraction: cfg.AutoSell.SellFraction,
		MaxFailures:  cfg.AutoSell.MaxSellFailures,
	})

	ring := engine.NewRing(recentTrades)
	recorders := []engine.Recorder{ring, metrics}
	if deps.TradeLogStore != nil {
		sr := engine.NewStoreRecorder(deps.TradeLogStore, tradeLogBuffer, a.logger)
		recorders = append(recorders, sr)
		g.Go(func() error { return sr.Run(ctx) })
	}
	if deps.EventBus != nil {
		recorders = append(recorders, engine.NewBusRecorder(deps.EventBus, cfg.Redis.TradeChannel, a.logger))
	}

	eng := engine.New(submitter, adm, book, queue, engine.Config{
		Slippage:           cfg.Trade.Slippage,
		PriorityFee:        cfg.Trade.PriorityFee,
		Pool:               cfg.Trade.Pool,
		AutoSell:           cfg.AutoSell.Enabled,
		SellPolicy:         domain.SellPolicy(cfg.Copy.SellPolicy),
		FeedSellPercentage: cfg.Copy.FeedSellPercentage,
	}, a.logger,
		engine.WithRecorders(recorders...),
		engine.WithAlerter(deps.Notifier),
	)

	if cfg.AutoSell.Enabled {
		sched := position.NewScheduler(book, queue, eng, cfg.AutoSell.PollInterval.Duration, a.logger)
		g.Go(func() error { return sched.Run(ctx) })
	}

	fd := a.startFeed(ctx, g, eng, metrics)
	metrics.Gauges(queue.Len, book.Len)

	if deps.Archiver != nil && cfg.Archive.Enabled {
		arch := pipeline.NewArchiver(deps.Archiver, cfg.Archive.RetentionDays, cfg.Archive.Interval.Duration, a.logger)
		g.Go(func() error { return arch.Run(ctx) })
	}

	a.startHTTPServer(ctx, g, deps, &statusReporter{
		mode:        "copy",
		started:     time.Now(),
		feed:        fd,
		book:        book,
		queue:       queue,
		originators: len(cfg.Copy.Originators),
	}, book, ring, metrics)

	return g.Wait()
}

// MonitorMode logs every normalized signal without placing orders.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	metrics := obs.NewMetrics()

	fd := a.startFeed(ctx, g, nil, metrics)
	book := position.NewBook(position.Policy{})
	metrics.Gauges(func() int { return 0 }, book.Len)

	a.startHTTPServer(ctx, g, deps, &statusReporter{
		mode:        "monitor",
		started:     time.Now(),
		feed:        fd,
		book:        book,
		originators: len(a.cfg.Copy.Originators),
	}, book, engine.NewRing(1), metrics)

	return g.Wait()
}

// startFeed builds the normalizer, frame handler and websocket feed. A nil
// router puts the handler in monitor mode.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, router feed.Router, metrics *obs.Metrics) *feed.PumpPortalFeed {
	cfg := a.cfg

	var opts []signal.Option
	if cfg.Copy.StrictAddresses {
		opts = append(opts, signal.WithStrictAddresses())
	}
	normalizer := signal.New(cfg.Copy.Ratio, opts...)

	hcfg := feed.HandlerConfig{
		MonitorOnly: router == nil,
		Originators: cfg.Copy.Originators,
		DedupTTL:    cfg.Copy.DedupTTL.Duration,
	}
	h := feed.NewHandler(normalizer, router, hcfg, a.logger)
	h.OnFrame(metrics.ObserveFrame)
	g.Go(func() error { return h.Run(ctx) })

	fd := feed.NewPumpPortalFeed(cfg.PumpPortal.DataURL, subscriptions(cfg.Copy), h.Handle, cfg.PumpPortal.ReconnectDelay.Duration, a.logger)
	fd.OnStateChange(metrics.SetFeedState)
	g.Go(func() error {
		defer fd.Close()
		return fd.Run(ctx)
	})
	return fd
}

// subscriptions builds one account subscription frame per originator.
// Token keys share a single frame.
func subscriptions(cfg config.CopyConfig) []pumpportal.Subscription {
	subs := make([]pumpportal.Subscription, 0, len(cfg.Originators)+1)
	for _, addr := range cfg.Originators {
		subs = append(subs, pumpportal.AccountTrades(strings.TrimSpace(addr)))
	}
	if len(cfg.TokenKeys) > 0 {
		subs = append(subs, pumpportal.TokenTrades(cfg.TokenKeys...))
	}
	return subs
}

func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	status handler.StatusSource,
	positions handler.PositionSource,
	recent handler.RecentTrades,
	metrics *obs.Metrics,
) {
	if !a.cfg.Server.Enabled {
		return
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Status:    handler.NewStatusHandler(status),
		Positions: handler.NewPositionHandler(positions),
		Trades:    handler.NewTradeHandler(recent, deps.TradeLogStore, a.logger),
		Metrics:   metrics.Handler(),
	}, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// pruneCooldowns drops in-memory cooldown entries that can no longer block
// a buy.
func (a *App) pruneCooldowns(ctx context.Context, mem *admission.MemoryStore, window time.Duration) error {
	if window <= 0 {
		return nil
	}
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if n := mem.Prune(now, cooldownPruneAge*window); n > 0 {
				a.logger.Debug("cooldowns pruned", slog.Int("removed", n))
			}
		}
	}
}

// statusReporter assembles domain.BotStatus from the live components.
type statusReporter struct {
	mode        string
	started     time.Time
	feed        *feed.PumpPortalFeed
	book        *position.Book
	queue       *executor.Serializer
	originators int
}

func (s *statusReporter) Status() domain.BotStatus {
	st := domain.BotStatus{
		Mode:          s.mode,
		FeedState:     s.feed.State(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		OpenPositions: s.book.Len(),
		Originators:   s.originators,
	}
	if s.queue != nil {
		st.QueueDepth = s.queue.Len()
	}
	return st
}
