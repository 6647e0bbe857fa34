package executor

import (
	"sync"
	"time"
)

// DefaultDedupLimit bounds the number of signatures a Dedup remembers.
const DefaultDedupLimit = 100_000

// Dedup remembers transaction signatures for a TTL so a trade delivered on
// both an account and a token subscription, or replayed after a reconnect,
// is acted on once. It holds at most limit signatures; past that the oldest
// are forgotten early.
type Dedup struct {
	mu    sync.Mutex
	ttl   time.Duration
	limit int
	now   func() time.Time

	seen  map[string]time.Time
	order []seenAt // insertion order, oldest first
}

type seenAt struct {
	sig string
	at  time.Time
}

// NewDedup creates a Dedup. limit <= 0 selects DefaultDedupLimit.
func NewDedup(ttl time.Duration, limit int) *Dedup {
	if limit <= 0 {
		limit = DefaultDedupLimit
	}
	return &Dedup{
		ttl:   ttl,
		limit: limit,
		now:   time.Now,
		seen:  make(map[string]time.Time),
	}
}

// IsDuplicate reports whether sig was recorded less than ttl ago, recording
// it otherwise. The empty signature is never a duplicate.
func (d *Dedup) IsDuplicate(sig string) bool {
	if sig == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.seen[sig]; ok && now.Sub(at) < d.ttl {
		return true
	}

	d.expire(now)
	for len(d.seen) >= d.limit && len(d.order) > 0 {
		d.pop()
	}
	d.seen[sig] = now
	d.order = append(d.order, seenAt{sig: sig, at: now})
	return false
}

// Len returns the number of remembered signatures.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Cleanup forgets expired signatures and returns how many were removed.
func (d *Dedup) Cleanup() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	before := len(d.seen)
	d.expire(d.now())
	return before - len(d.seen)
}

func (d *Dedup) expire(now time.Time) {
	for len(d.order) > 0 && now.Sub(d.order[0].at) >= d.ttl {
		d.pop()
	}
	if len(d.order) == 0 {
		d.order = nil
	}
}

// pop drops the oldest queue entry. The map entry goes with it unless the
// signature was recorded again later.
func (d *Dedup) pop() {
	head := d.order[0]
	d.order = d.order[1:]
	if at, ok := d.seen[head.sig]; ok && at.Equal(head.at) {
		delete(d.seen, head.sig)
	}
}
