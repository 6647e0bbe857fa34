package domain

import (
	"context"
	"time"
)

// CooldownStore holds the last admitted buy time per asset. Set must never
// move a stored timestamp backwards.
type CooldownStore interface {
	Last(ctx context.Context, assetID string) (time.Time, bool, error)
	Set(ctx context.Context, assetID string, at time.Time) error
}

// EventBus publishes trade events to external subscribers.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
