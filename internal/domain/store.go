package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeLogStore persists the append-only trade audit log.
type TradeLogStore interface {
	Insert(ctx context.Context, entry TradeLogEntry) error
	ListRecent(ctx context.Context, opts ListOpts) ([]TradeLogEntry, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]TradeLogEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
