package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/platform/pumpportal"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func TestPumpPortalFeed_ReconnectsAndResubscribes(t *testing.T) {
	var conns atomic.Int32
	var mu sync.Mutex
	var subs []pumpportal.Subscription

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		n := conns.Add(1)

		for i := 0; i < 2; i++ {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var sub pumpportal.Subscription
			if err := json.Unmarshal(msg, &sub); err == nil {
				mu.Lock()
				subs = append(subs, sub)
				mu.Unlock()
			}
		}
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"conn":`+string(rune('0'+n))+`}`))
		if n == 1 {
			// Drop the first connection to force a reconnect.
			return
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	var frames atomic.Int32
	handle := func(_ context.Context, raw []byte) { frames.Add(1) }

	var stateMu sync.Mutex
	var states []domain.FeedState
	f := NewPumpPortalFeed(
		"ws"+strings.TrimPrefix(server.URL, "http"),
		[]pumpportal.Subscription{pumpportal.AccountTrades("W1"), pumpportal.AccountTrades("W2")},
		handle, 20*time.Millisecond, testLogger(),
	)
	f.OnStateChange(func(s domain.FeedState) {
		stateMu.Lock()
		states = append(states, s)
		stateMu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, func() bool {
		return frames.Load() == 2 && f.State() == domain.FeedOpen
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(2), conns.Load())
	assert.Equal(t, int64(1), f.Reconnects())
	mu.Lock()
	require.Len(t, subs, 4)
	assert.Equal(t, []string{"W1"}, subs[0].Keys)
	assert.Equal(t, []string{"W2"}, subs[1].Keys)
	assert.Equal(t, []string{"W1"}, subs[2].Keys, "subscriptions are replayed after reconnect")
	mu.Unlock()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, domain.FeedClosed, f.State())

	stateMu.Lock()
	defer stateMu.Unlock()
	assert.Equal(t, []domain.FeedState{
		domain.FeedConnecting, domain.FeedOpen,
		domain.FeedReconnecting, domain.FeedConnecting, domain.FeedOpen,
		domain.FeedClosed,
	}, states)
}

func TestPumpPortalFeed_NoSubscriptions(t *testing.T) {
	f := NewPumpPortalFeed("ws://unused", nil, func(context.Context, []byte) {}, time.Second, testLogger())
	assert.NoError(t, f.Run(context.Background()))
}

func TestPumpPortalFeed_Close(t *testing.T) {
	f := NewPumpPortalFeed("ws://127.0.0.1:1", []pumpportal.Subscription{pumpportal.AccountTrades("W1")},
		func(context.Context, []byte) {}, 10*time.Millisecond, testLogger())
	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	f.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not stop")
	}
}
