package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// DefaultQueueSize is the command buffer used when none is configured.
const DefaultQueueSize = 1024

// Task is a unit of serialized work. It receives the worker's context.
type Task func(ctx context.Context) error

// Pending is the handle returned by Enqueue.
type Pending struct {
	done    chan struct{}
	err     error
	stopped <-chan struct{}
}

// Wait blocks until the task has run, ctx is cancelled, or the serializer has
// stopped without running it.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopped:
		select {
		case <-p.done:
			return p.err
		default:
			return domain.ErrQueueClosed
		}
	}
}

// Done is closed once the task has finished.
func (p *Pending) Done() <-chan struct{} { return p.done }

func (p *Pending) resolve(err error) {
	p.err = err
	close(p.done)
}

type command struct {
	name    string
	task    Task
	pending *Pending
	queued  time.Time
}

// Serializer runs tasks one at a time in enqueue order on a single worker
// goroutine. A task that fails or panics does not affect later tasks.
type Serializer struct {
	commands chan command
	logger   *slog.Logger

	closeOnce sync.Once
	closing   chan struct{}
	stopped   chan struct{}
	started   atomic.Bool

	onTask func(name string, wait, run time.Duration, err error)
}

// SerializerOption configures a Serializer.
type SerializerOption func(*Serializer)

// WithTaskHook registers a callback invoked after each task with its queue
// wait, run time and result.
func WithTaskHook(fn func(name string, wait, run time.Duration, err error)) SerializerOption {
	return func(s *Serializer) { s.onTask = fn }
}

// NewSerializer creates a Serializer with a command buffer of size queueSize.
// Call Run to start the worker.
func NewSerializer(queueSize int, logger *slog.Logger, opts ...SerializerOption) *Serializer {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	s := &Serializer{
		commands: make(chan command, queueSize),
		logger:   logger.With(slog.String("component", "serializer")),
		closing:  make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue appends task to the queue. It blocks while the buffer is full. After
// Close or once Run has returned, the returned Pending resolves to
// domain.ErrQueueClosed.
func (s *Serializer) Enqueue(name string, task Task) *Pending {
	p := &Pending{done: make(chan struct{}), stopped: s.stopped}
	select {
	case <-s.closing:
		p.resolve(domain.ErrQueueClosed)
		return p
	case <-s.stopped:
		p.resolve(domain.ErrQueueClosed)
		return p
	default:
	}

	cmd := command{name: name, task: task, pending: p, queued: time.Now()}
	select {
	case s.commands <- cmd:
	case <-s.closing:
		p.resolve(domain.ErrQueueClosed)
	case <-s.stopped:
		p.resolve(domain.ErrQueueClosed)
	}
	return p
}

// Len returns the number of tasks waiting to run.
func (s *Serializer) Len() int { return len(s.commands) }

// Run is the worker loop. On ctx cancellation queued tasks are discarded with
// domain.ErrQueueClosed; after Close the queue is drained first.
func (s *Serializer) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("executor: serializer already running")
	}
	defer close(s.stopped)

	s.logger.Info("serializer started")
	defer s.logger.Info("serializer stopped")

	for {
		select {
		case <-ctx.Done():
			s.discard()
			return ctx.Err()

		case cmd := <-s.commands:
			s.exec(ctx, cmd)

		case <-s.closing:
			for {
				select {
				case cmd := <-s.commands:
					s.exec(ctx, cmd)
				default:
					return nil
				}
			}
		}
	}
}

// Close stops accepting tasks. Done is closed when the worker has exited.
func (s *Serializer) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// Done is closed when Run has returned.
func (s *Serializer) Done() <-chan struct{} { return s.stopped }

func (s *Serializer) exec(ctx context.Context, cmd command) {
	start := time.Now()
	err := s.safeRun(ctx, cmd)
	if s.onTask != nil {
		s.onTask(cmd.name, start.Sub(cmd.queued), time.Since(start), err)
	}
	cmd.pending.resolve(err)
}

func (s *Serializer) safeRun(ctx context.Context, cmd command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor: task %s panicked: %v", cmd.name, r)
			s.logger.Error("task panicked",
				slog.String("task", cmd.name),
				slog.String("error", err.Error()),
			)
		}
	}()
	return cmd.task(ctx)
}

func (s *Serializer) discard() {
	for {
		select {
		case cmd := <-s.commands:
			cmd.pending.resolve(domain.ErrQueueClosed)
		default:
			return
		}
	}
}
