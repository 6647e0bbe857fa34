package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/executor"
	"github.com/alanyoungcy/copybot/internal/signal"
)

// Router accepts normalized signals. *engine.Engine satisfies it.
type Router interface {
	HandleSignal(ctx context.Context, sig domain.TradeSignal) *executor.Pending
}

// Frame outcomes reported to the frame hook.
const (
	OutcomeRouted    = "routed"
	OutcomeMonitored = "monitored"
	OutcomeDuplicate = "duplicate"
	OutcomeUntracked = "untracked"
	OutcomeControl   = "control"
	OutcomeInvalid   = "invalid"
)

// Handler turns raw feed frames into engine work: duplicate suppression by
// source signature, normalization, originator filtering, routing.
type Handler struct {
	normalizer  *signal.Normalizer
	dedup       *executor.Dedup
	router      Router
	monitorOnly bool
	originators map[string]struct{}
	onFrame     func(outcome string, sig domain.TradeSignal)
	logger      *slog.Logger
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// MonitorOnly logs signals without routing them.
	MonitorOnly bool
	// Originators restricts routing to trades by these wallets. Empty routes
	// every trade, which is only sensible with account subscriptions.
	Originators []string
	// DedupTTL is how long a source signature is remembered.
	DedupTTL time.Duration
}

// NewHandler creates a Handler. router may be nil in monitor mode.
func NewHandler(n *signal.Normalizer, router Router, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	origs := make(map[string]struct{}, len(cfg.Originators))
	for _, o := range cfg.Originators {
		origs[o] = struct{}{}
	}
	return &Handler{
		normalizer:  n,
		dedup:       executor.NewDedup(cfg.DedupTTL, 0),
		router:      router,
		monitorOnly: cfg.MonitorOnly || router == nil,
		originators: origs,
		logger:      logger.With(slog.String("component", "feed_handler")),
	}
}

// OnFrame registers a callback invoked once per frame with its outcome.
func (h *Handler) OnFrame(fn func(outcome string, sig domain.TradeSignal)) { h.onFrame = fn }

// Handle processes one raw frame. It never panics on bad input and never
// returns an error: every failure ends as a log line.
func (h *Handler) Handle(ctx context.Context, raw []byte) {
	sig, kind := h.normalizer.Classify(raw)
	switch kind {
	case signal.KindControl:
		h.logger.DebugContext(ctx, "feed control frame", slog.String("frame", truncate(raw)))
		h.report(OutcomeControl, sig)
		return
	case signal.KindInvalid:
		h.logger.DebugContext(ctx, "unparseable feed frame", slog.String("frame", truncate(raw)))
		h.report(OutcomeInvalid, sig)
		return
	}

	if h.dedup.IsDuplicate(sig.SourceTx) {
		h.logger.DebugContext(ctx, "duplicate feed frame", slog.String("tx", sig.SourceTx))
		h.report(OutcomeDuplicate, sig)
		return
	}

	if h.monitorOnly {
		h.logger.InfoContext(ctx, "trade observed",
			slog.String("action", string(sig.Action)),
			slog.String("asset", sig.AssetID),
			slog.String("originator", sig.Originator),
			slog.Float64("amount", sig.Amount),
			slog.String("tx", sig.SourceTx),
		)
		h.report(OutcomeMonitored, sig)
		return
	}

	if len(h.originators) > 0 {
		if _, ok := h.originators[sig.Originator]; !ok {
			h.logger.DebugContext(ctx, "trade by untracked wallet",
				slog.String("asset", sig.AssetID),
				slog.String("originator", sig.Originator),
			)
			h.report(OutcomeUntracked, sig)
			return
		}
	}

	h.logger.InfoContext(ctx, "trade signal",
		slog.String("action", string(sig.Action)),
		slog.String("asset", sig.AssetID),
		slog.String("originator", sig.Originator),
		slog.Float64("amount", sig.Amount),
	)
	h.router.HandleSignal(ctx, sig)
	h.report(OutcomeRouted, sig)
}

// Run periodically prunes the duplicate filter until ctx is cancelled.
func (h *Handler) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := h.dedup.Cleanup(); n > 0 {
				h.logger.Debug("dedup pruned", slog.Int("removed", n))
			}
		}
	}
}

func (h *Handler) report(outcome string, sig domain.TradeSignal) {
	if h.onFrame != nil {
		h.onFrame(outcome, sig)
	}
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
