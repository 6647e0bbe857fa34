package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchiver struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (f *fakeArchiver) ArchiveTradeLog(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, before)
	return 3, f.err
}

func (f *fakeArchiver) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestArchiver_RunOnceCutoff(t *testing.T) {
	fa := &fakeArchiver{}
	a := NewArchiver(fa, 30, time.Hour, discard())
	now := time.Date(2026, 5, 31, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	n, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.Len(t, fa.cutoffs, 1)
	assert.Equal(t, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), fa.cutoffs[0])
}

func TestArchiver_RunOnceError(t *testing.T) {
	fa := &fakeArchiver{err: errors.New("s3 down")}
	_, err := NewArchiver(fa, 1, time.Hour, discard()).RunOnce(context.Background())
	assert.ErrorContains(t, err, "s3 down")
}

func TestArchiver_RunLoop(t *testing.T) {
	fa := &fakeArchiver{err: errors.New("transient")}
	a := NewArchiver(fa, 1, 10*time.Millisecond, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return fa.calls() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
