// Package engine composes admission, submission and the position book into
// the buy and sell paths, and turns every attempt into a TradeLogEntry.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/copybot/internal/admission"
	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/executor"
	"github.com/alanyoungcy/copybot/internal/position"
	"github.com/alanyoungcy/copybot/internal/solana"
)

// Trigger values recorded on log entries.
const (
	TriggerFeed     = "feed"
	TriggerSchedule = "schedule"
)

// Alert event types.
const (
	EventPositionDropped = "position_dropped"
	EventBuyFilled       = "buy_filled"
	EventPositionClosed  = "position_closed"
)

// Config holds the order parameters and sell-signal policy.
type Config struct {
	Slippage           float64
	PriorityFee        float64
	Pool               string
	AutoSell           bool
	SellPolicy         domain.SellPolicy
	FeedSellPercentage string // e.g. "100%"
}

// Alerter delivers operator notifications. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Engine executes buys and sells. ExecuteBuy, ExecuteSell and
// ExecuteMirrorSell must run inside serialized tasks; HandleSignal takes care
// of that for feed signals.
type Engine struct {
	orders    executor.OrderClient
	admission *admission.Controller
	book      *position.Book
	queue     position.Enqueuer
	cfg       Config
	recorders []Recorder
	alerts    Alerter
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorders adds sinks that receive every log entry.
func WithRecorders(r ...Recorder) Option {
	return func(e *Engine) { e.recorders = append(e.recorders, r...) }
}

// WithAlerter sets the notifier used for terminal position failures.
func WithAlerter(a Alerter) Option {
	return func(e *Engine) { e.alerts = a }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(
	orders executor.OrderClient,
	adm *admission.Controller,
	book *position.Book,
	queue position.Enqueuer,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	if cfg.SellPolicy == "" {
		cfg.SellPolicy = domain.SellPolicyIgnore
	}
	if cfg.FeedSellPercentage == "" {
		cfg.FeedSellPercentage = "100%"
	}
	e := &Engine{
		orders:    orders,
		admission: adm,
		book:      book,
		queue:     queue,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleSignal routes a feed signal into the serializer. It returns nil when
// the configured policy ignores the signal.
func (e *Engine) HandleSignal(ctx context.Context, sig domain.TradeSignal) *executor.Pending {
	switch sig.Action {
	case domain.ActionBuy:
		return e.queue.Enqueue("buy:"+sig.AssetID, func(ctx context.Context) error {
			e.ExecuteBuy(ctx, sig)
			return nil
		})
	case domain.ActionSell:
		if e.cfg.SellPolicy != domain.SellPolicyLiquidate {
			e.logger.DebugContext(ctx, "sell signal ignored",
				slog.String("asset", sig.AssetID),
				slog.String("originator", sig.Originator),
			)
			return nil
		}
		// The holding is checked inside the task so a buy queued ahead of
		// this sell has already registered its position.
		return e.queue.Enqueue("mirror-sell:"+sig.AssetID, func(ctx context.Context) error {
			if _, ok := e.book.Get(sig.AssetID); !ok {
				e.logger.DebugContext(ctx, "sell signal for asset we do not hold",
					slog.String("asset", sig.AssetID),
				)
				return nil
			}
			e.ExecuteMirrorSell(ctx, sig)
			return nil
		})
	}
	return nil
}

// ExecuteBuy runs the buy path: cooldown check, submission, cooldown record
// and position registration.
func (e *Engine) ExecuteBuy(ctx context.Context, sig domain.TradeSignal) domain.TradeLogEntry {
	entry := e.newEntry(domain.ActionBuy, sig.AssetID, sig.Amount, TriggerFeed, sig.ObservedAt)
	entry.Originator = sig.Originator

	if sig.Amount <= 0 {
		return e.finish(ctx, entry, fmt.Errorf("%w: non-positive buy amount", domain.ErrInvalidSignal))
	}
	now := e.now()
	if !e.admission.Admissible(ctx, sig.AssetID, now) {
		left := e.admission.Remaining(ctx, sig.AssetID, now)
		return e.finish(ctx, entry, fmt.Errorf("%w for %s (%s left)", domain.ErrCooldown, solana.Short(sig.AssetID), left.Round(time.Second)))
	}

	start := e.now()
	txHash, err := e.orders.Submit(ctx, e.order(domain.ActionBuy, sig.AssetID, sig.Amount, "", sig.AmountIsQuote))
	e.stamp(&entry, start)
	if err != nil {
		return e.finish(ctx, entry, err)
	}
	entry.TxHash = txHash

	done := e.now()
	e.admission.Record(ctx, sig.AssetID, done)
	if e.cfg.AutoSell {
		if p, ok := e.book.Open(sig.AssetID, sig.Amount, done); ok {
			e.logger.InfoContext(ctx, "position registered",
				slog.String("asset", sig.AssetID),
				slog.Float64("total", p.TotalAmount),
				slog.Float64("remaining", p.RemainingAmount),
				slog.Time("next_action_due", p.NextActionDue),
			)
		}
	}
	e.alert(ctx, EventBuyFilled, "Buy filled",
		fmt.Sprintf("%s %s SOL tx %s", sig.AssetID, formatAmount(sig.Amount), txHash))
	return e.finish(ctx, entry, nil)
}

// ExecuteSell runs one scheduled liquidation step for assetID. On failure the
// position is left in place for the next tick unless the failure cap is hit.
func (e *Engine) ExecuteSell(ctx context.Context, assetID string) domain.TradeLogEntry {
	amount, err := e.book.PlanSell(assetID)
	entry := e.newEntry(domain.ActionSell, assetID, amount, TriggerSchedule, e.now())
	if err != nil {
		return e.finish(ctx, entry, err)
	}

	start := e.now()
	txHash, err := e.orders.Submit(ctx, e.order(domain.ActionSell, assetID, amount, "", true))
	e.stamp(&entry, start)
	if err != nil {
		failures, dropped := e.book.RecordFailure(assetID)
		if dropped {
			e.logger.ErrorContext(ctx, "position dropped after repeated sell failures",
				slog.String("asset", assetID),
				slog.Int("failures", failures),
				slog.String("error", err.Error()),
			)
			e.alert(ctx, EventPositionDropped, "Position dropped",
				fmt.Sprintf("%s: %d consecutive sell failures, last error: %v", assetID, failures, err))
		}
		return e.finish(ctx, entry, err)
	}
	entry.TxHash = txHash

	p, closed, err := e.book.ApplySell(assetID, amount, e.now())
	if err != nil {
		// Closed by another path while the order was in flight.
		e.logger.WarnContext(ctx, "sold position no longer tracked", slog.String("asset", assetID))
	} else if closed {
		e.logger.InfoContext(ctx, "position fully liquidated", slog.String("asset", assetID))
		e.alert(ctx, EventPositionClosed, "Position closed",
			fmt.Sprintf("%s fully liquidated, last tx %s", assetID, txHash))
	} else {
		e.logger.InfoContext(ctx, "position reduced",
			slog.String("asset", assetID),
			slog.Float64("remaining", p.RemainingAmount),
			slog.Time("next_action_due", p.NextActionDue),
		)
	}
	return e.finish(ctx, entry, nil)
}

// ExecuteMirrorSell sells FeedSellPercentage of our holdings of the asset the
// mirrored trader just sold.
func (e *Engine) ExecuteMirrorSell(ctx context.Context, sig domain.TradeSignal) domain.TradeLogEntry {
	pct := e.cfg.FeedSellPercentage
	entry := e.newEntry(domain.ActionSell, sig.AssetID, 0, TriggerFeed, sig.ObservedAt)
	entry.Originator = sig.Originator
	entry.Percentage = pct

	if _, ok := e.book.Get(sig.AssetID); !ok {
		return e.finish(ctx, entry, domain.ErrNoPosition)
	}
	fraction, err := ParsePercentage(pct)
	if err != nil {
		return e.finish(ctx, entry, err)
	}

	start := e.now()
	txHash, err := e.orders.Submit(ctx, e.order(domain.ActionSell, sig.AssetID, 0, pct, false))
	e.stamp(&entry, start)
	if err != nil {
		return e.finish(ctx, entry, err)
	}
	entry.TxHash = txHash

	if p, closed, err := e.book.ApplyLiquidation(sig.AssetID, fraction); err == nil {
		e.logger.InfoContext(ctx, "position reduced by mirrored sell",
			slog.String("asset", sig.AssetID),
			slog.Bool("closed", closed),
			slog.Float64("remaining", p.RemainingAmount),
		)
	}
	return e.finish(ctx, entry, nil)
}

func (e *Engine) order(action domain.TradeAction, assetID string, amount float64, pct string, quote bool) domain.OrderRequest {
	return domain.OrderRequest{
		Action:        action,
		AssetID:       assetID,
		Amount:        amount,
		Percentage:    pct,
		AmountIsQuote: quote,
		Slippage:      e.cfg.Slippage,
		PriorityFee:   e.cfg.PriorityFee,
		Pool:          e.cfg.Pool,
	}
}

func (e *Engine) newEntry(action domain.TradeAction, assetID string, amount float64, trigger string, signalTime time.Time) domain.TradeLogEntry {
	return domain.TradeLogEntry{
		ID:         uuid.New().String(),
		Action:     action,
		AssetID:    assetID,
		Amount:     amount,
		Trigger:    trigger,
		SignalTime: signalTime,
	}
}

func (e *Engine) stamp(entry *domain.TradeLogEntry, start time.Time) {
	end := e.now()
	entry.ExecTime = &end
	entry.Duration = end.Sub(start)
}

// finish attaches err, prints the entry and hands it to every recorder.
func (e *Engine) finish(ctx context.Context, entry domain.TradeLogEntry, err error) domain.TradeLogEntry {
	if err != nil {
		entry.Error = err.Error()
		entry.ErrorKind = domain.ErrorKind(err)
	}
	e.print(ctx, entry)
	for _, r := range e.recorders {
		r.Record(ctx, entry)
	}
	return entry
}

func (e *Engine) print(ctx context.Context, entry domain.TradeLogEntry) {
	attrs := []slog.Attr{
		slog.String("status", status(entry)),
		slog.String("action", strings.ToUpper(string(entry.Action))),
		slog.String("asset", solana.Short(entry.AssetID)),
		slog.String("trigger", entry.Trigger),
		slog.Time("signal_time", entry.SignalTime),
	}
	if entry.Amount > 0 {
		attrs = append(attrs, slog.Float64("amount", entry.Amount))
	}
	if entry.Percentage != "" {
		attrs = append(attrs, slog.String("percentage", entry.Percentage))
	}
	if entry.ExecTime != nil {
		attrs = append(attrs, slog.Int64("duration_ms", entry.Duration.Milliseconds()))
	}
	if entry.TxHash != "" {
		attrs = append(attrs, slog.String("tx", txPrefix(entry.TxHash)))
	}
	if entry.Error != "" {
		attrs = append(attrs,
			slog.String("error", entry.Error),
			slog.String("error_kind", entry.ErrorKind),
		)
	}

	level := slog.LevelInfo
	switch entry.ErrorKind {
	case "", "cooldown", "no_position", "invalid":
	default:
		level = slog.LevelWarn
	}
	e.logger.LogAttrs(ctx, level, "trade", attrs...)
}

func (e *Engine) alert(ctx context.Context, event, title, msg string) {
	if e.alerts == nil {
		return
	}
	if err := e.alerts.Notify(ctx, event, title, msg); err != nil {
		e.logger.WarnContext(ctx, "alert delivery failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func status(entry domain.TradeLogEntry) string {
	switch {
	case entry.Succeeded():
		return "ok"
	case entry.ErrorKind == "cooldown":
		return "skipped"
	default:
		return "failed"
	}
}

func txPrefix(tx string) string {
	if len(tx) <= 6 {
		return tx
	}
	return tx[:6] + "..."
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParsePercentage parses "25%" or "25" into 0.25. Values must lie in (0, 100].
func ParsePercentage(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64)
	if err != nil {
		return 0, fmt.Errorf("engine: parse percentage %q: %w", s, err)
	}
	if v <= 0 || v > 100 {
		return 0, fmt.Errorf("engine: percentage %q out of range (0, 100]", s)
	}
	return v / 100, nil
}
