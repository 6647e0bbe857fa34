package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// Recorder receives every TradeLogEntry. Implementations must not block for
// long: they are called from inside serialized tasks.
type Recorder interface {
	Record(ctx context.Context, entry domain.TradeLogEntry)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, entry domain.TradeLogEntry)

func (f RecorderFunc) Record(ctx context.Context, entry domain.TradeLogEntry) { f(ctx, entry) }

// Ring keeps the most recent entries in memory for the status API.
type Ring struct {
	mu      sync.RWMutex
	entries []domain.TradeLogEntry
	next    int
	full    bool
}

// NewRing creates a Ring holding up to size entries.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 256
	}
	return &Ring{entries: make([]domain.TradeLogEntry, size)}
}

func (r *Ring) Record(_ context.Context, entry domain.TradeLogEntry) {
	r.mu.Lock()
	r.entries[r.next] = entry
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Recent returns up to n entries, newest first.
func (r *Ring) Recent(n int) []domain.TradeLogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	if r.full {
		size = len(r.entries)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]domain.TradeLogEntry, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}

// StoreRecorder persists entries asynchronously through a TradeLogStore. When
// its buffer is full new entries are dropped and logged.
type StoreRecorder struct {
	store  domain.TradeLogStore
	ch     chan domain.TradeLogEntry
	logger *slog.Logger
}

// NewStoreRecorder creates a StoreRecorder with the given buffer size. Call
// Run to start the writer.
func NewStoreRecorder(store domain.TradeLogStore, buffer int, logger *slog.Logger) *StoreRecorder {
	if buffer <= 0 {
		buffer = 512
	}
	return &StoreRecorder{
		store:  store,
		ch:     make(chan domain.TradeLogEntry, buffer),
		logger: logger.With(slog.String("component", "trade_log_writer")),
	}
}

func (s *StoreRecorder) Record(_ context.Context, entry domain.TradeLogEntry) {
	select {
	case s.ch <- entry:
	default:
		s.logger.Warn("trade log buffer full, dropping entry", slog.String("id", entry.ID))
	}
}

// Run writes queued entries until ctx is cancelled, then flushes what is left
// with a short deadline.
func (s *StoreRecorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return ctx.Err()
		case entry := <-s.ch:
			s.write(ctx, entry)
		}
	}
}

func (s *StoreRecorder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case entry := <-s.ch:
			s.write(ctx, entry)
		default:
			return
		}
	}
}

func (s *StoreRecorder) write(ctx context.Context, entry domain.TradeLogEntry) {
	if err := s.store.Insert(ctx, entry); err != nil {
		s.logger.Error("trade log insert failed",
			slog.String("id", entry.ID),
			slog.String("error", err.Error()),
		)
	}
}

// BusRecorder publishes each entry as JSON on an EventBus channel.
type BusRecorder struct {
	bus     domain.EventBus
	channel string
	logger  *slog.Logger
}

// NewBusRecorder creates a BusRecorder publishing to channel.
func NewBusRecorder(bus domain.EventBus, channel string, logger *slog.Logger) *BusRecorder {
	if channel == "" {
		channel = "copybot:trades"
	}
	return &BusRecorder{bus: bus, channel: channel, logger: logger}
}

func (b *BusRecorder) Record(ctx context.Context, entry domain.TradeLogEntry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := b.bus.Publish(ctx, b.channel, payload); err != nil {
		b.logger.Warn("trade event publish failed",
			slog.String("channel", b.channel),
			slog.String("error", err.Error()),
		)
	}
}
