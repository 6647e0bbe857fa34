package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/platform/pumpportal"
)

// DefaultReconnectDelay is the pause between a lost connection and the next dial.
const DefaultReconnectDelay = 5 * time.Second

// FrameHandler receives every raw frame from the feed.
type FrameHandler func(ctx context.Context, raw []byte)

// PumpPortalFeed supervises the data websocket: it dials, replays every
// subscription, reads until the connection fails, waits reconnectDelay and
// starts over. State moves Connecting -> Open -> Reconnecting -> Connecting
// and ends in Closed once ctx is cancelled.
type PumpPortalFeed struct {
	wsURL          string
	subs           []pumpportal.Subscription
	handle         FrameHandler
	reconnectDelay time.Duration
	logger         *slog.Logger

	state      atomic.Value // domain.FeedState
	reconnects atomic.Int64
	onState    func(domain.FeedState)

	closeOnce sync.Once
	done      chan struct{}
}

// NewPumpPortalFeed creates a feed that will replay subs on every connection.
func NewPumpPortalFeed(wsURL string, subs []pumpportal.Subscription, handle FrameHandler, reconnectDelay time.Duration, logger *slog.Logger) *PumpPortalFeed {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	f := &PumpPortalFeed{
		wsURL:          wsURL,
		subs:           subs,
		handle:         handle,
		reconnectDelay: reconnectDelay,
		logger:         logger.With(slog.String("component", "pumpportal_feed")),
		done:           make(chan struct{}),
	}
	f.state.Store(domain.FeedClosed)
	return f
}

// OnStateChange registers a callback for state transitions. Call before Run.
func (f *PumpPortalFeed) OnStateChange(fn func(domain.FeedState)) { f.onState = fn }

// State returns the current connection state.
func (f *PumpPortalFeed) State() domain.FeedState {
	return f.state.Load().(domain.FeedState)
}

// Reconnects returns how many times the feed has redialled.
func (f *PumpPortalFeed) Reconnects() int64 { return f.reconnects.Load() }

// Run blocks until ctx is cancelled or Close is called.
func (f *PumpPortalFeed) Run(ctx context.Context) error {
	if len(f.subs) == 0 {
		f.logger.Info("no subscriptions configured, exiting")
		return nil
	}
	defer f.setState(domain.FeedClosed)

	f.setState(domain.FeedConnecting)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-f.done:
			return nil
		default:
		}

		f.setState(domain.FeedReconnecting)
		f.logger.Warn("pumpportal ws disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", f.reconnectDelay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(f.reconnectDelay):
		}
		f.reconnects.Add(1)
		f.setState(domain.FeedConnecting)
	}
}

func (f *PumpPortalFeed) runConnection(ctx context.Context) error {
	client := pumpportal.NewWSClient(f.wsURL)
	defer client.Close()

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(dialCtx)
	cancel()
	if err != nil {
		return err
	}

	for _, sub := range f.subs {
		if err := client.Subscribe(sub); err != nil {
			return err
		}
	}
	f.setState(domain.FeedOpen)
	f.logger.Info("pumpportal ws subscribed", slog.Int("subscriptions", len(f.subs)))

	connCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-f.done:
			stop()
		case <-connCtx.Done():
		}
	}()

	return client.Listen(connCtx, func(raw []byte) { f.handle(ctx, raw) })
}

func (f *PumpPortalFeed) setState(s domain.FeedState) {
	if f.State() == s {
		return
	}
	f.state.Store(s)
	if f.onState != nil {
		f.onState(s)
	}
}

// Close stops the feed.
func (f *PumpPortalFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
