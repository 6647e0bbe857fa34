// Package position tracks bought assets and their liquidation schedule.
package position

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// DefaultDust is the remaining amount at or below which a position counts as
// fully liquidated.
const DefaultDust = 1e-9

// Policy holds the liquidation schedule parameters.
type Policy struct {
	InitialDelay time.Duration
	SellInterval time.Duration
	SellFraction float64 // share of TotalAmount sold per scheduled step
	Dust         float64
	MaxFailures  int // consecutive failed sells before the position is dropped; 0 means never
}

// Book owns every PendingPosition. Mutation is expected to happen from
// serialized tasks; the mutex only keeps concurrent readers (status API,
// scheduler scans) memory safe.
type Book struct {
	mu        sync.RWMutex
	positions map[string]*domain.PendingPosition
	policy    Policy
}

// NewBook creates an empty Book.
func NewBook(policy Policy) *Book {
	if policy.Dust <= 0 {
		policy.Dust = DefaultDust
	}
	return &Book{
		positions: make(map[string]*domain.PendingPosition),
		policy:    policy,
	}
}

// Policy returns the book's schedule parameters.
func (b *Book) Policy() Policy { return b.policy }

// Open registers a successful buy. A buy for an asset that is already open
// adds to both totals and keeps the existing schedule. Amounts at or below
// dust are ignored and report false.
func (b *Book) Open(assetID string, amount float64, now time.Time) (domain.PendingPosition, bool) {
	if amount <= b.policy.Dust {
		return domain.PendingPosition{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.positions[assetID]; ok {
		p.TotalAmount += amount
		p.RemainingAmount += amount
		return *p, true
	}
	p := &domain.PendingPosition{
		AssetID:         assetID,
		TotalAmount:     amount,
		RemainingAmount: amount,
		NextActionDue:   now.Add(b.policy.InitialDelay),
		OpenedAt:        now,
	}
	b.positions[assetID] = p
	return *p, true
}

// Get returns a copy of the position for assetID.
func (b *Book) Get(assetID string) (domain.PendingPosition, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[assetID]
	if !ok {
		return domain.PendingPosition{}, false
	}
	return *p, true
}

// Due returns the positions whose next action is due at now, earliest first.
func (b *Book) Due(now time.Time) []domain.PendingPosition {
	b.mu.RLock()
	out := make([]domain.PendingPosition, 0, len(b.positions))
	for _, p := range b.positions {
		if p.Due(now) {
			out = append(out, *p)
		}
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].NextActionDue.Equal(out[j].NextActionDue) {
			return out[i].AssetID < out[j].AssetID
		}
		return out[i].NextActionDue.Before(out[j].NextActionDue)
	})
	return out
}

// PlanSell computes the next scheduled sell: min(total*fraction, remaining).
func (b *Book) PlanSell(assetID string) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[assetID]
	if !ok {
		return 0, domain.ErrNoPosition
	}
	return min(p.TotalAmount*b.policy.SellFraction, p.RemainingAmount), nil
}

// ApplySell records a successful scheduled sell. It returns the updated
// position and whether it was fully liquidated and removed.
func (b *Book) ApplySell(assetID string, sold float64, now time.Time) (domain.PendingPosition, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[assetID]
	if !ok {
		return domain.PendingPosition{}, false, domain.ErrNoPosition
	}

	p.RemainingAmount -= min(sold, p.RemainingAmount)
	p.Failures = 0
	if p.RemainingAmount <= b.policy.Dust {
		p.RemainingAmount = 0
		delete(b.positions, assetID)
		return *p, true, nil
	}
	p.NextActionDue = now.Add(b.policy.SellInterval)
	return *p, false, nil
}

// ApplyLiquidation shrinks a position after a sell we did not schedule, such
// as mirroring the tracked trader. fraction is the share of our holdings
// sold; 1 or more closes the position.
func (b *Book) ApplyLiquidation(assetID string, fraction float64) (domain.PendingPosition, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[assetID]
	if !ok {
		return domain.PendingPosition{}, false, domain.ErrNoPosition
	}
	if fraction >= 1 {
		delete(b.positions, assetID)
		p.RemainingAmount = 0
		return *p, true, nil
	}
	if fraction > 0 {
		p.TotalAmount *= 1 - fraction
		p.RemainingAmount *= 1 - fraction
	}
	if p.RemainingAmount <= b.policy.Dust {
		delete(b.positions, assetID)
		p.RemainingAmount = 0
		return *p, true, nil
	}
	return *p, false, nil
}

// RecordFailure counts a failed scheduled sell. The position is otherwise
// unchanged and retried on the next tick, unless MaxFailures is reached, in
// which case it is removed and dropped reports true.
func (b *Book) RecordFailure(assetID string) (failures int, dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[assetID]
	if !ok {
		return 0, false
	}
	p.Failures++
	if b.policy.MaxFailures > 0 && p.Failures >= b.policy.MaxFailures {
		delete(b.positions, assetID)
		return p.Failures, true
	}
	return p.Failures, false
}

// Close removes a position regardless of its remaining amount.
func (b *Book) Close(assetID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.positions[assetID]
	delete(b.positions, assetID)
	return ok
}

// Len returns the number of open positions.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// Snapshot returns copies of all open positions ordered by asset.
func (b *Book) Snapshot() []domain.PendingPosition {
	b.mu.RLock()
	out := make([]domain.PendingPosition, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}
