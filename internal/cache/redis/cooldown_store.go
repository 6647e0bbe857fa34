package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/cooldown.lua
var cooldownLua string

// DefaultCooldownTTL bounds how long an idle cooldown key survives.
const DefaultCooldownTTL = 24 * time.Hour

// CooldownStore implements domain.CooldownStore. Timestamps are stored as
// unix microseconds and only ever move forward.
type CooldownStore struct {
	c      *Client
	ttl    time.Duration
	setMax *redis.Script
}

// NewCooldownStore creates a CooldownStore. A ttl <= 0 uses
// DefaultCooldownTTL; it should be well above the cooldown window.
func NewCooldownStore(c *Client, ttl time.Duration) *CooldownStore {
	if ttl <= 0 {
		ttl = DefaultCooldownTTL
	}
	return &CooldownStore{
		c:      c,
		ttl:    ttl,
		setMax: redis.NewScript(cooldownLua),
	}
}

func (s *CooldownStore) cooldownKey(assetID string) string {
	return s.c.key("cooldown", assetID)
}

// Last returns the last recorded action time for assetID.
func (s *CooldownStore) Last(ctx context.Context, assetID string) (time.Time, bool, error) {
	raw, err := s.c.rdb.Get(ctx, s.cooldownKey(assetID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis: cooldown get %s: %w", assetID, err)
	}
	us, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis: cooldown parse %s: %w", assetID, err)
	}
	return time.UnixMicro(us), true, nil
}

// Set records at for assetID unless a later time is already stored.
func (s *CooldownStore) Set(ctx context.Context, assetID string, at time.Time) error {
	err := s.setMax.Run(ctx, s.c.rdb,
		[]string{s.cooldownKey(assetID)},
		at.UnixMicro(),
		s.ttl.Milliseconds(),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: cooldown set %s: %w", assetID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.CooldownStore = (*CooldownStore)(nil)
