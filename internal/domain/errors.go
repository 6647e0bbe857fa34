package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidSignal = errors.New("invalid trade signal")
	ErrCooldown      = errors.New("cooldown active")
	ErrNoPosition    = errors.New("no pending position")
	ErrTimeout       = errors.New("order submission timed out")
	ErrRejected      = errors.New("order rejected")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrQueueClosed   = errors.New("execution queue closed")
)

// APIError is returned when the order endpoint answers with a non-success
// status. Body is truncated by the client before it gets here.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API %d: %s", e.StatusCode, e.Body)
}

// Is maps status codes onto the package sentinels so callers can use
// errors.Is without inspecting the code.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.StatusCode == 429
	case ErrUnauthorized:
		return e.StatusCode == 401 || e.StatusCode == 403
	case ErrTimeout:
		return e.StatusCode == 408 || e.StatusCode == 504
	case ErrRejected:
		return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != 408 && e.StatusCode != 429
	}
	return false
}

// Retryable reports whether resubmitting the same order may succeed.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 408 || e.StatusCode == 429
}

// NetworkError wraps a transport failure (dial, TLS, reset, deadline).
type NetworkError struct {
	Op      string
	Err     error
	Timeout bool
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTimeout) match transport deadlines.
func (e *NetworkError) Is(target error) bool {
	return target == ErrTimeout && e.Timeout
}

// RetriesExhaustedError is returned by the submitter once every attempt has
// failed. Last is the error from the final attempt.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

// ErrorKind classifies a submission failure for logging and metrics.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var exhausted *RetriesExhaustedError
	prefix := ""
	if errors.As(err, &exhausted) {
		prefix = "retries_exhausted:"
	}
	switch {
	case errors.Is(err, ErrCooldown):
		return "cooldown"
	case errors.Is(err, ErrInvalidSignal):
		return "invalid"
	case errors.Is(err, ErrNoPosition):
		return "no_position"
	case errors.Is(err, ErrTimeout):
		return prefix + "timeout"
	case errors.Is(err, ErrRejected):
		return prefix + "rejected"
	case errors.Is(err, ErrRateLimited):
		return prefix + "rate_limited"
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return prefix + "api"
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return prefix + "network"
	}
	if prefix != "" {
		return "retries_exhausted"
	}
	return "internal"
}
