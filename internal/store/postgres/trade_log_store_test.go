package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// setupTestDB starts a throwaway PostgreSQL container and applies the
// embedded migrations. Skipped when no container provider is available.
func setupTestDB(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("copybot"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	c, err := Open(ctx, Options{DSN: dsn, MaxConns: 4, Migrate: true})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	// A second run finds nothing to apply.
	n, err := c.Migrate(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	return c
}

func entryAt(action domain.TradeAction, ts time.Time) domain.TradeLogEntry {
	exec := ts.Add(150 * time.Millisecond)
	return domain.TradeLogEntry{
		ID:         uuid.NewString(),
		Action:     action,
		AssetID:    "ABC",
		Amount:     0.1,
		Trigger:    "feed",
		SignalTime: ts,
		ExecTime:   &exec,
		Duration:   150 * time.Millisecond,
		TxHash:     "tx1",
	}
}

func TestTradeLogStore_RoundTrip(t *testing.T) {
	c := setupTestDB(t)
	ctx := context.Background()
	s := c.TradeLog()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := entryAt(domain.ActionBuy, base)
	second := entryAt(domain.ActionSell, base.Add(time.Minute))
	second.TxHash = ""
	second.Error = "API 500: boom"
	second.ErrorKind = "retries_exhausted:api"
	second.ExecTime = nil

	require.NoError(t, s.Insert(ctx, first))
	require.NoError(t, s.Insert(ctx, second))
	require.NoError(t, s.Insert(ctx, first))

	got, err := s.ListRecent(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, domain.ActionSell, got[0].Action)
	assert.Nil(t, got[0].ExecTime)
	assert.Equal(t, "retries_exhausted:api", got[0].ErrorKind)
	assert.Equal(t, 150*time.Millisecond, got[1].Duration)
	assert.True(t, got[1].SignalTime.Equal(base))

	since := base.Add(30 * time.Second)
	got, err = s.ListRecent(ctx, domain.ListOpts{Since: &since})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestTradeLogStore_BeforeAndDelete(t *testing.T) {
	c := setupTestDB(t)
	ctx := context.Background()
	s := c.TradeLog()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Insert(ctx, entryAt(domain.ActionBuy, base.Add(time.Duration(i)*time.Hour))))
	}

	cutoff := base.Add(90 * time.Minute)
	old, err := s.ListBefore(ctx, cutoff, 0)
	require.NoError(t, err)
	require.Len(t, old, 2)
	assert.True(t, old[0].SignalTime.Before(old[1].SignalTime))

	n, err := s.DeleteBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rest, err := s.ListRecent(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}
