package position

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/executor"
)

// Enqueuer accepts serialized work.
type Enqueuer interface {
	Enqueue(name string, task executor.Task) *executor.Pending
}

// Seller executes one scheduled sell for an asset. It runs inside a
// serialized task.
type Seller interface {
	ExecuteSell(ctx context.Context, assetID string) domain.TradeLogEntry
}

// Scheduler polls the Book and enqueues a sell for every due position. An
// asset that already has a sell queued is skipped until that sell has run.
type Scheduler struct {
	book     *Book
	queue    Enqueuer
	seller   Seller
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewScheduler creates a Scheduler that ticks every interval.
func NewScheduler(book *Book, queue Enqueuer, seller Seller, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		book:     book,
		queue:    queue,
		seller:   seller,
		interval: interval,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "scheduler")),
		inflight: make(map[string]struct{}),
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	defer s.logger.Info("scheduler stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(s.now())
		}
	}
}

// Tick enqueues sells for positions due at now and returns their pendings.
func (s *Scheduler) Tick(now time.Time) []*executor.Pending {
	due := s.book.Due(now)
	if len(due) == 0 {
		return nil
	}

	var out []*executor.Pending
	for _, p := range due {
		assetID := p.AssetID
		if !s.claim(assetID) {
			continue
		}
		s.logger.Debug("scheduling sell",
			slog.String("asset", assetID),
			slog.Float64("remaining", p.RemainingAmount),
		)
		pending := s.queue.Enqueue("sell:"+assetID, func(ctx context.Context) error {
			defer s.release(assetID)
			// The position may have been closed or rescheduled while queued.
			cur, ok := s.book.Get(assetID)
			if !ok || !cur.Due(s.now()) {
				return nil
			}
			s.seller.ExecuteSell(ctx, assetID)
			return nil
		})
		select {
		case <-pending.Done():
			if errors.Is(pending.Wait(context.Background()), domain.ErrQueueClosed) {
				s.release(assetID)
				continue
			}
		default:
			go s.releaseIfDropped(assetID, pending)
		}
		out = append(out, pending)
	}
	return out
}

// InFlight returns the number of assets with a queued sell.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

func (s *Scheduler) claim(assetID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[assetID]; ok {
		return false
	}
	s.inflight[assetID] = struct{}{}
	return true
}

// releaseIfDropped frees the claim when the serializer stops before the
// task runs. A task that ran releases its own claim.
func (s *Scheduler) releaseIfDropped(assetID string, pending *executor.Pending) {
	if errors.Is(pending.Wait(context.Background()), domain.ErrQueueClosed) {
		s.release(assetID)
	}
}

func (s *Scheduler) release(assetID string) {
	s.mu.Lock()
	delete(s.inflight, assetID)
	s.mu.Unlock()
}
