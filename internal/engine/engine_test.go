package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copybot/internal/admission"
	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/executor"
	"github.com/alanyoungcy/copybot/internal/platform/pumpportal"
	"github.com/alanyoungcy/copybot/internal/position"
	"github.com/alanyoungcy/copybot/internal/signal"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeOrders struct {
	mu     sync.Mutex
	orders []domain.OrderRequest
	sig    string
	err    error
}

func (f *fakeOrders) Submit(_ context.Context, o domain.OrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, o)
	if f.err != nil {
		return "", f.err
	}
	return f.sig, nil
}

type fakeAlerts struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAlerts) Notify(_ context.Context, event, _, _ string) error {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
	return nil
}

type harness struct {
	engine *Engine
	book   *position.Book
	queue  *executor.Serializer
	ring   *Ring
	alerts *fakeAlerts
	now    *time.Time
}

func newHarness(t *testing.T, orders executor.OrderClient, cfg Config, policy position.Policy) *harness {
	t.Helper()
	logger := testLogger()
	now := t0
	clock := func() time.Time { return now }

	queue := executor.NewSerializer(16, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = queue.Run(ctx) }()

	book := position.NewBook(policy)
	ring := NewRing(16)
	alerts := &fakeAlerts{}
	e := New(orders, admission.New(2*time.Minute, nil, logger), book, queue, cfg, logger,
		WithRecorders(ring), WithAlerter(alerts), WithClock(clock))
	return &harness{engine: e, book: book, queue: queue, ring: ring, alerts: alerts, now: &now}
}

func defaultPolicy() position.Policy {
	return position.Policy{
		InitialDelay: 2 * time.Minute,
		SellInterval: 5 * time.Minute,
		SellFraction: 0.2,
		MaxFailures:  3,
	}
}

func defaultConfig() Config {
	return Config{Slippage: 10, PriorityFee: 0.0002, Pool: "auto", AutoSell: true}
}

func TestEngine_BuyScenario(t *testing.T) {
	orders := &fakeOrders{sig: "tx1"}
	h := newHarness(t, orders, defaultConfig(), defaultPolicy())

	sig, ok := signal.New(0.01).Normalize([]byte(`{"txType":"buy","mint":"ABC","solAmount":10,"traderPublicKey":"T1"}`))
	require.True(t, ok)

	entry := h.engine.ExecuteBuy(context.Background(), sig)
	assert.True(t, entry.Succeeded())
	assert.Equal(t, "tx1", entry.TxHash)
	assert.NotEmpty(t, entry.ID)
	require.NotNil(t, entry.ExecTime)

	require.Len(t, orders.orders, 1)
	o := orders.orders[0]
	assert.Equal(t, domain.ActionBuy, o.Action)
	assert.InDelta(t, 0.1, o.Amount, 1e-12)
	assert.True(t, o.AmountIsQuote)
	assert.Equal(t, "auto", o.Pool)

	p, ok := h.book.Get("ABC")
	require.True(t, ok)
	assert.InDelta(t, 0.1, p.TotalAmount, 1e-12)
	assert.InDelta(t, 0.1, p.RemainingAmount, 1e-12)
	assert.Equal(t, t0.Add(2*time.Minute), p.NextActionDue)

	assert.Equal(t, []string{EventBuyFilled}, h.alerts.events)
	assert.Len(t, h.ring.Recent(0), 1)
}

func TestEngine_BuyCooldown(t *testing.T) {
	orders := &fakeOrders{sig: "tx1"}
	h := newHarness(t, orders, defaultConfig(), defaultPolicy())
	sig := domain.TradeSignal{Action: domain.ActionBuy, AssetID: "ABC", Amount: 0.1, AmountIsQuote: true}

	require.True(t, h.engine.ExecuteBuy(context.Background(), sig).Succeeded())

	*h.now = t0.Add(time.Minute)
	entry := h.engine.ExecuteBuy(context.Background(), sig)
	assert.False(t, entry.Succeeded())
	assert.Equal(t, "cooldown", entry.ErrorKind)
	assert.Nil(t, entry.ExecTime, "no submission was attempted")
	assert.Len(t, orders.orders, 1)

	*h.now = t0.Add(2 * time.Minute)
	assert.True(t, h.engine.ExecuteBuy(context.Background(), sig).Succeeded())
	assert.Len(t, orders.orders, 2)
}

func TestEngine_BuyFailureLeavesNoPosition(t *testing.T) {
	orders := &fakeOrders{err: &domain.APIError{StatusCode: 400, Body: "bad"}}
	h := newHarness(t, orders, defaultConfig(), defaultPolicy())
	sig := domain.TradeSignal{Action: domain.ActionBuy, AssetID: "ABC", Amount: 0.1, AmountIsQuote: true}

	entry := h.engine.ExecuteBuy(context.Background(), sig)
	assert.Equal(t, "rejected", entry.ErrorKind)
	assert.Contains(t, entry.Error, "API 400")
	assert.Zero(t, h.book.Len())

	// A failed buy does not start a cooldown.
	orders.err = nil
	orders.sig = "tx2"
	assert.True(t, h.engine.ExecuteBuy(context.Background(), sig).Succeeded())
}

func TestEngine_BuyWithoutAutoSell(t *testing.T) {
	cfg := defaultConfig()
	cfg.AutoSell = false
	h := newHarness(t, &fakeOrders{sig: "tx1"}, cfg, defaultPolicy())

	entry := h.engine.ExecuteBuy(context.Background(), domain.TradeSignal{Action: domain.ActionBuy, AssetID: "ABC", Amount: 0.1})
	assert.True(t, entry.Succeeded())
	assert.Zero(t, h.book.Len())
}

func TestEngine_ZeroAmountBuy(t *testing.T) {
	orders := &fakeOrders{sig: "tx1"}
	h := newHarness(t, orders, defaultConfig(), defaultPolicy())
	entry := h.engine.ExecuteBuy(context.Background(), domain.TradeSignal{Action: domain.ActionBuy, AssetID: "ABC"})
	assert.Equal(t, "invalid", entry.ErrorKind)
	assert.Empty(t, orders.orders)
}

func TestEngine_SellScenario(t *testing.T) {
	orders := &fakeOrders{sig: "tx-sell"}
	h := newHarness(t, orders, defaultConfig(), defaultPolicy())
	h.book.Open("ABC", 0.1, t0)

	*h.now = t0.Add(2 * time.Minute)
	entry := h.engine.ExecuteSell(context.Background(), "ABC")
	require.True(t, entry.Succeeded())
	assert.InDelta(t, 0.02, entry.Amount, 1e-12)
	assert.Equal(t, TriggerSchedule, entry.Trigger)

	require.Len(t, orders.orders, 1)
	assert.Equal(t, domain.ActionSell, orders.orders[0].Action)
	assert.InDelta(t, 0.02, orders.orders[0].Amount, 1e-12)

	p, ok := h.book.Get("ABC")
	require.True(t, ok)
	assert.InDelta(t, 0.08, p.RemainingAmount, 1e-12)
	assert.Equal(t, t0.Add(7*time.Minute), p.NextActionDue)
}

func TestEngine_SellRetriesExhaustedScenario(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "upstream failure", http.StatusInternalServerError)
	}))
	defer server.Close()

	submitter := executor.NewSubmitter(
		pumpportal.NewTradeClient(server.URL, "key", time.Second),
		executor.WithMaxRetries(3),
		executor.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	h := newHarness(t, submitter, defaultConfig(), defaultPolicy())
	h.book.Open("ABC", 0.1, t0)
	before, _ := h.book.Get("ABC")

	*h.now = t0.Add(2 * time.Minute)
	entry := h.engine.ExecuteSell(context.Background(), "ABC")

	assert.Equal(t, int32(3), hits.Load())
	assert.False(t, entry.Succeeded())
	assert.Equal(t, "retries_exhausted:api", entry.ErrorKind)
	assert.Contains(t, entry.Error, "retries exhausted after 3 attempts")

	after, ok := h.book.Get("ABC")
	require.True(t, ok, "position is kept for the next tick")
	assert.Equal(t, before.RemainingAmount, after.RemainingAmount)
	assert.Equal(t, before.NextActionDue, after.NextActionDue)
	assert.Equal(t, 1, after.Failures)
}

func TestEngine_SellFailureCapAlerts(t *testing.T) {
	orders := &fakeOrders{err: &domain.NetworkError{Op: "post", Err: errors.New("reset")}}
	h := newHarness(t, orders, defaultConfig(), defaultPolicy())
	h.book.Open("ABC", 0.1, t0)

	for i := 0; i < 3; i++ {
		h.engine.ExecuteSell(context.Background(), "ABC")
	}
	assert.Zero(t, h.book.Len())
	assert.Equal(t, []string{EventPositionDropped}, h.alerts.events)
}

func TestEngine_SellFullLiquidation(t *testing.T) {
	policy := defaultPolicy()
	policy.SellFraction = 0.5
	h := newHarness(t, &fakeOrders{sig: "tx"}, defaultConfig(), policy)
	h.book.Open("ABC", 1, t0)

	h.engine.ExecuteSell(context.Background(), "ABC")
	h.engine.ExecuteSell(context.Background(), "ABC")
	assert.Zero(t, h.book.Len())
	assert.Contains(t, h.alerts.events, EventPositionClosed)

	entry := h.engine.ExecuteSell(context.Background(), "ABC")
	assert.Equal(t, "no_position", entry.ErrorKind)
}

func TestEngine_HandleSignal(t *testing.T) {
	orders := &fakeOrders{sig: "tx1"}
	h := newHarness(t, orders, defaultConfig(), defaultPolicy())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := h.engine.HandleSignal(ctx, domain.TradeSignal{Action: domain.ActionBuy, AssetID: "ABC", Amount: 0.1, AmountIsQuote: true})
	require.NotNil(t, p)
	require.NoError(t, p.Wait(ctx))
	assert.Equal(t, 1, h.book.Len())

	// Default policy ignores feed sells.
	assert.Nil(t, h.engine.HandleSignal(ctx, domain.TradeSignal{Action: domain.ActionSell, AssetID: "ABC"}))
	assert.Equal(t, 1, h.book.Len())
}

func TestEngine_MirrorSell(t *testing.T) {
	orders := &fakeOrders{sig: "tx-mirror"}
	cfg := defaultConfig()
	cfg.SellPolicy = domain.SellPolicyLiquidate
	cfg.FeedSellPercentage = "50%"
	h := newHarness(t, orders, cfg, defaultPolicy())
	h.book.Open("ABC", 1, t0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	other := h.engine.HandleSignal(ctx, domain.TradeSignal{Action: domain.ActionSell, AssetID: "OTHER"})
	require.NotNil(t, other)
	require.NoError(t, other.Wait(ctx))
	assert.Empty(t, orders.orders)
	assert.Empty(t, h.ring.Recent(1))

	p := h.engine.HandleSignal(ctx, domain.TradeSignal{Action: domain.ActionSell, AssetID: "ABC", Originator: "T1"})
	require.NotNil(t, p)
	require.NoError(t, p.Wait(ctx))

	require.Len(t, orders.orders, 1)
	o := orders.orders[0]
	assert.Equal(t, "50%", o.Percentage)
	assert.False(t, o.AmountIsQuote)

	pos, ok := h.book.Get("ABC")
	require.True(t, ok)
	assert.InDelta(t, 0.5, pos.RemainingAmount, 1e-12)

	recent := h.ring.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "T1", recent[0].Originator)
	assert.Equal(t, TriggerFeed, recent[0].Trigger)
}

// gatedOrders blocks every Submit until release is closed.
type gatedOrders struct {
	fakeOrders
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedOrders) Submit(ctx context.Context, o domain.OrderRequest) (string, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return g.fakeOrders.Submit(ctx, o)
}

func TestEngine_MirrorSellAfterQueuedBuy(t *testing.T) {
	orders := &gatedOrders{
		fakeOrders: fakeOrders{sig: "tx1"},
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	cfg := defaultConfig()
	cfg.SellPolicy = domain.SellPolicyLiquidate
	cfg.FeedSellPercentage = "100%"
	h := newHarness(t, orders, cfg, defaultPolicy())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	buy := h.engine.HandleSignal(ctx, domain.TradeSignal{Action: domain.ActionBuy, AssetID: "ABC", Amount: 0.1, AmountIsQuote: true})
	require.NotNil(t, buy)
	<-orders.started

	// The originator sells before our buy has filled.
	sell := h.engine.HandleSignal(ctx, domain.TradeSignal{Action: domain.ActionSell, AssetID: "ABC", Originator: "T1"})
	require.NotNil(t, sell)
	assert.Equal(t, 0, h.book.Len())

	close(orders.release)
	require.NoError(t, buy.Wait(ctx))
	require.NoError(t, sell.Wait(ctx))

	orders.mu.Lock()
	defer orders.mu.Unlock()
	require.Len(t, orders.orders, 2)
	assert.Equal(t, domain.ActionBuy, orders.orders[0].Action)
	assert.Equal(t, domain.ActionSell, orders.orders[1].Action)
	assert.Equal(t, "100%", orders.orders[1].Percentage)
	assert.Equal(t, 0, h.book.Len())
}

func TestParsePercentage(t *testing.T) {
	v, err := ParsePercentage("100%")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = ParsePercentage(" 25 ")
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)

	for _, bad := range []string{"", "abc", "0%", "150%", "-5"} {
		_, err := ParsePercentage(bad)
		assert.Error(t, err, bad)
	}
}
