package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// Default retry configuration.
const (
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = 1 * time.Second
	DefaultBackoffFactor = 1.5
)

// OrderClient submits a single order and returns its transaction signature.
type OrderClient interface {
	Submit(ctx context.Context, order domain.OrderRequest) (string, error)
}

// Submitter wraps an OrderClient with bounded retry and exponential backoff.
// maxRetries counts total attempts; the wait after the k-th failed attempt is
// retryDelay * backoffFactor^k, capped at maxDelay when set.
type Submitter struct {
	client        OrderClient
	maxRetries    int
	retryDelay    time.Duration
	backoffFactor float64
	maxDelay      time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
	onAttempt     func(attempt int, err error)
}

// SubmitterOption configures a Submitter.
type SubmitterOption func(*Submitter)

// WithMaxRetries sets the total number of attempts. Values below 1 mean 1.
func WithMaxRetries(n int) SubmitterOption {
	return func(s *Submitter) { s.maxRetries = n }
}

// WithRetryDelay sets the base delay. The first retry already waits
// base * factor.
func WithRetryDelay(d time.Duration) SubmitterOption {
	return func(s *Submitter) { s.retryDelay = d }
}

// WithBackoffFactor sets the multiplier applied to each subsequent wait.
func WithBackoffFactor(f float64) SubmitterOption {
	return func(s *Submitter) { s.backoffFactor = f }
}

// WithMaxDelay caps a single wait. Zero means no cap.
func WithMaxDelay(d time.Duration) SubmitterOption {
	return func(s *Submitter) { s.maxDelay = d }
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) SubmitterOption {
	return func(s *Submitter) { s.sleep = fn }
}

// WithAttemptHook registers a callback invoked after every attempt with its
// 1-based index and result.
func WithAttemptHook(fn func(attempt int, err error)) SubmitterOption {
	return func(s *Submitter) { s.onAttempt = fn }
}

// NewSubmitter creates a Submitter around client.
func NewSubmitter(client OrderClient, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		client:        client,
		maxRetries:    DefaultMaxRetries,
		retryDelay:    DefaultRetryDelay,
		backoffFactor: DefaultBackoffFactor,
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxRetries < 1 {
		s.maxRetries = 1
	}
	if s.backoffFactor <= 0 {
		s.backoffFactor = 1
	}
	return s
}

// Submit sends order, retrying transient failures. Non-retryable errors are
// returned as-is after the attempt that produced them; exhausting every
// attempt returns *domain.RetriesExhaustedError wrapping the last error.
func (s *Submitter) Submit(ctx context.Context, order domain.OrderRequest) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, s.Backoff(attempt-1)); err != nil {
				return "", fmt.Errorf("executor: submit: %w (last error: %v)", err, lastErr)
			}
		}

		sig, err := s.client.Submit(ctx, order)
		if s.onAttempt != nil {
			s.onAttempt(attempt, err)
		}
		if err == nil {
			return sig, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", fmt.Errorf("executor: submit: %w (last error: %v)", ctx.Err(), lastErr)
		}
		if !Retryable(err) {
			return "", err
		}
	}
	return "", &domain.RetriesExhaustedError{Attempts: s.maxRetries, Last: lastErr}
}

// Backoff returns the wait after the k-th failed attempt (k >= 1), counting
// the exponent from the first failure.
func (s *Submitter) Backoff(k int) time.Duration {
	if k < 1 {
		return 0
	}
	d := time.Duration(float64(s.retryDelay) * math.Pow(s.backoffFactor, float64(k)))
	if s.maxDelay > 0 && d > s.maxDelay {
		d = s.maxDelay
	}
	return d
}

// Retryable reports whether err is transient: network failures, timeouts,
// 5xx and 429 responses.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var netErr *domain.NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, domain.ErrTimeout)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
