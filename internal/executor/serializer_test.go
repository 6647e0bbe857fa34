package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startSerializer(t *testing.T, opts ...SerializerOption) (*Serializer, context.CancelFunc) {
	t.Helper()
	s := NewSerializer(16, testLogger(), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()
	t.Cleanup(cancel)
	return s, cancel
}

func TestSerializer_FIFOWithFailures(t *testing.T) {
	s, _ := startSerializer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	release := make(chan struct{})
	var mu sync.Mutex
	var order []int
	record := func(i int) {
		mu.Lock()
		order = append(order, i)
		mu.Unlock()
	}

	p1 := s.Enqueue("t1", func(context.Context) error {
		<-release
		record(1)
		return nil
	})
	errTwo := errors.New("task two failed")
	p2 := s.Enqueue("t2", func(context.Context) error {
		record(2)
		return errTwo
	})
	p3 := s.Enqueue("t3", func(context.Context) error {
		record(3)
		return nil
	})

	// Task 1 is still pending; nothing behind it may run.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, order)
	mu.Unlock()

	close(release)
	require.NoError(t, p1.Wait(ctx))
	assert.ErrorIs(t, p2.Wait(ctx), errTwo)
	require.NoError(t, p3.Wait(ctx))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestSerializer_NoOverlap(t *testing.T) {
	s, _ := startSerializer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	pendings := make([]*Pending, 0, 50)
	var pmu sync.Mutex
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := s.Enqueue("work", func(context.Context) error {
				n := running.Add(1)
				for {
					m := maxRunning.Load()
					if n <= m || maxRunning.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				running.Add(-1)
				return nil
			})
			pmu.Lock()
			pendings = append(pendings, p)
			pmu.Unlock()
		}()
	}
	wg.Wait()
	for _, p := range pendings {
		require.NoError(t, p.Wait(ctx))
	}
	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestSerializer_PanicIsolated(t *testing.T) {
	s, _ := startSerializer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p1 := s.Enqueue("boom", func(context.Context) error { panic("kaboom") })
	p2 := s.Enqueue("after", func(context.Context) error { return nil })

	err := p1.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.NoError(t, p2.Wait(ctx))
}

func TestSerializer_CloseDrains(t *testing.T) {
	s := NewSerializer(8, testLogger())
	var ran atomic.Int32
	p1 := s.Enqueue("a", func(context.Context) error { ran.Add(1); return nil })
	p2 := s.Enqueue("b", func(context.Context) error { ran.Add(1); return nil })
	assert.Equal(t, 2, s.Len())

	s.Close()
	require.NoError(t, s.Run(context.Background()))

	ctx := context.Background()
	assert.NoError(t, p1.Wait(ctx))
	assert.NoError(t, p2.Wait(ctx))
	assert.Equal(t, int32(2), ran.Load())

	late := s.Enqueue("late", func(context.Context) error { return nil })
	assert.ErrorIs(t, late.Wait(ctx), domain.ErrQueueClosed)
}

func TestSerializer_CancelDiscards(t *testing.T) {
	s := NewSerializer(8, testLogger())
	p := s.Enqueue("never", func(context.Context) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Run may pick the task or the cancellation first; both resolve the pending.
	_ = s.Run(ctx)

	err := p.Wait(context.Background())
	if err != nil {
		assert.ErrorIs(t, err, domain.ErrQueueClosed)
	}
	<-s.Done()
}

func TestSerializer_EnqueueAfterStop(t *testing.T) {
	s := NewSerializer(8, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = s.Run(ctx)
	<-s.Done()

	for i := 0; i < 20; i++ {
		p := s.Enqueue("late", func(context.Context) error { return nil })
		select {
		case <-p.Done():
		default:
			t.Fatal("pending left unresolved after the worker stopped")
		}
		assert.ErrorIs(t, p.Wait(context.Background()), domain.ErrQueueClosed)
	}
	assert.Zero(t, s.Len())
}

func TestSerializer_TaskHook(t *testing.T) {
	var names []string
	var mu sync.Mutex
	s, _ := startSerializer(t, WithTaskHook(func(name string, _, _ time.Duration, err error) {
		mu.Lock()
		names = append(names, name)
		mu.Unlock()
	}))
	require.NoError(t, s.Enqueue("buy", func(context.Context) error { return nil }).Wait(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"buy"}, names)
}

func TestSerializer_RunTwice(t *testing.T) {
	s, _ := startSerializer(t)
	// Make sure the first Run has claimed the worker slot.
	require.NoError(t, s.Enqueue("noop", func(context.Context) error { return nil }).Wait(context.Background()))
	assert.Error(t, s.Run(context.Background()))
}
