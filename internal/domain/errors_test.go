package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_Is(t *testing.T) {
	assert.ErrorIs(t, &APIError{StatusCode: 429}, ErrRateLimited)
	assert.ErrorIs(t, &APIError{StatusCode: 403}, ErrUnauthorized)
	assert.ErrorIs(t, &APIError{StatusCode: 408}, ErrTimeout)
	assert.ErrorIs(t, &APIError{StatusCode: 400}, ErrRejected)
	assert.NotErrorIs(t, &APIError{StatusCode: 429}, ErrRejected)
	assert.NotErrorIs(t, &APIError{StatusCode: 500}, ErrRejected)
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("buy: %w", ErrCooldown), "cooldown"},
		{ErrInvalidSignal, "invalid"},
		{ErrNoPosition, "no_position"},
		{&APIError{StatusCode: 400}, "rejected"},
		{&APIError{StatusCode: 500}, "api"},
		{&NetworkError{Op: "dial", Err: errors.New("refused")}, "network"},
		{&NetworkError{Op: "dial", Err: errors.New("slow"), Timeout: true}, "timeout"},
		{&RetriesExhaustedError{Attempts: 3, Last: &APIError{StatusCode: 500}}, "retries_exhausted:api"},
		{&RetriesExhaustedError{Attempts: 3, Last: errors.New("odd")}, "retries_exhausted"},
		{errors.New("odd"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err), "%v", tt.err)
	}
}

func TestRetriesExhaustedError(t *testing.T) {
	last := &APIError{StatusCode: 500, Body: "down"}
	err := error(&RetriesExhaustedError{Attempts: 3, Last: last})
	assert.Equal(t, "retries exhausted after 3 attempts: API 500: down", err.Error())

	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 500, apiErr.StatusCode)
}
