// Package admission implements the per-asset buy cooldown.
package admission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// Controller gates buys per asset. An asset is inadmissible while
// now - last < window; a buy exactly at the boundary is admitted.
type Controller struct {
	window time.Duration
	store  domain.CooldownStore
	logger *slog.Logger
}

// New creates a Controller backed by store. A nil store selects the
// in-memory backend.
func New(window time.Duration, store domain.CooldownStore, logger *slog.Logger) *Controller {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		window: window,
		store:  store,
		logger: logger.With(slog.String("component", "admission")),
	}
}

// Window returns the configured cooldown.
func (c *Controller) Window() time.Duration { return c.window }

// Admissible reports whether a buy for assetID may proceed at now. A backend
// failure admits the buy.
func (c *Controller) Admissible(ctx context.Context, assetID string, now time.Time) bool {
	last, ok, err := c.store.Last(ctx, assetID)
	if err != nil {
		c.logger.Warn("cooldown lookup failed, admitting",
			slog.String("asset", assetID),
			slog.String("error", err.Error()),
		)
		return true
	}
	if !ok {
		return true
	}
	return now.Sub(last) >= c.window
}

// Remaining returns how long assetID stays blocked, or zero.
func (c *Controller) Remaining(ctx context.Context, assetID string, now time.Time) time.Duration {
	last, ok, err := c.store.Last(ctx, assetID)
	if err != nil || !ok {
		return 0
	}
	if d := c.window - now.Sub(last); d > 0 {
		return d
	}
	return 0
}

// Record stores now as the last buy for assetID. Earlier timestamps than the
// stored one are ignored by the backend.
func (c *Controller) Record(ctx context.Context, assetID string, now time.Time) {
	if err := c.store.Set(ctx, assetID, now); err != nil {
		c.logger.Warn("cooldown record failed",
			slog.String("asset", assetID),
			slog.String("error", err.Error()),
		)
	}
}

// MemoryStore is the default process-local CooldownStore.
type MemoryStore struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{last: make(map[string]time.Time)}
}

func (s *MemoryStore) Last(_ context.Context, assetID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.last[assetID]
	return t, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, assetID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.last[assetID]; ok && at.Before(prev) {
		return nil
	}
	s.last[assetID] = at
	return nil
}

// Prune drops entries older than maxAge relative to now and returns how many
// were removed.
func (s *MemoryStore) Prune(now time.Time, maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, t := range s.last {
		if now.Sub(t) > maxAge {
			delete(s.last, k)
			n++
		}
	}
	return n
}
