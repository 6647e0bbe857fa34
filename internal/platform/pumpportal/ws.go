package pumpportal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/gorilla/websocket"
)

// DefaultDataURL is the real-time data websocket.
const DefaultDataURL = "wss://pumpportal.fun/api/data"

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

// WSClient is one connection to the data websocket. It does not reconnect on
// its own; the feed supervisor dials a fresh client after every failure.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	// gorilla/websocket allows a single concurrent writer.
	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	pongWait   time.Duration
	pingPeriod time.Duration
}

// NewWSClient creates a client for wsURL. Call Connect before use.
func NewWSClient(wsURL string) *WSClient {
	if wsURL == "" {
		wsURL = DefaultDataURL
	}
	return &WSClient{
		wsURL:      wsURL,
		done:       make(chan struct{}),
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
	}
}

// Connect dials the websocket and starts the keep-alive loop.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("pumpportal/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("pumpportal/ws: connect: %w", err)
	}
	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(w.pongWait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(w.pongWait))
	})

	go w.pingLoop(conn)
	return nil
}

// Subscribe sends a subscription command.
func (w *WSClient) Subscribe(sub Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("pumpportal/ws: marshal %s: %w", sub.Method, err)
	}
	if err := w.write(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("pumpportal/ws: %s: %w", sub.Method, err)
	}
	return nil
}

// Listen delivers every text frame to handle until the connection fails or
// ctx is cancelled. It always returns a non-nil error.
func (w *WSClient) Listen(ctx context.Context, handle func([]byte)) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("pumpportal/ws: not connected: %w", domain.ErrWSDisconnect)
	}

	stop := context.AfterFunc(ctx, func() { _ = w.Close() })
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("pumpportal/ws: read: %w: %v", domain.ErrWSDisconnect, err)
		}
		conn.SetReadDeadline(time.Now().Add(w.pongWait))
		handle(msg)
	}
}

// Close shuts down the connection. It is safe to call more than once.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn == nil {
		return nil
	}
	_ = w.write(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	return w.conn.Close()
}

func (w *WSClient) write(messageType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.conn == nil {
		return domain.ErrWSDisconnect
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(messageType, data)
}

// pingLoop sends periodic ping messages to keep the connection alive.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(w.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if err := w.write(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
