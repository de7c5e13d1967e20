package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      error
		retryable bool
	}{
		{"rate limit", errors.New("API returned unexpected status code: 429: Too Many Requests"), ErrRateLimited, true},
		{"context length", errors.New("This model's maximum context length is 8192 tokens"), ErrInputTooLarge, false},
		{"payload too large", errors.New("status 413: request entity too large"), ErrInputTooLarge, false},
		{"status 413", errors.New("API returned unexpected status code: 413"), ErrInputTooLarge, false},
		{"invalid request", errors.New("invalid request: input must be a string"), ErrMalformedInput, false},
		{"service unavailable", errors.New("503 service unavailable"), ErrUnavailable, true},
		{"bad key", errors.New("Incorrect API key provided"), ErrAuthentication, false},
		{"network", timeoutErr{}, ErrUnavailable, true},
		{"already classified", fmt.Errorf("wrapped: %w", ErrMalformedInput), ErrMalformedInput, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err, "original error must stay in the chain")
			assert.Equal(t, tt.retryable, IsRetryable(got))
		})
	}
}

func TestClassify_Passthrough(t *testing.T) {
	assert.NoError(t, Classify(nil))

	canceled := fmt.Errorf("embed: %w", context.Canceled)
	assert.Equal(t, canceled, Classify(canceled))
	assert.False(t, IsRetryable(canceled))

	unknown := errors.New("connection reset by peer")
	assert.Equal(t, unknown, Classify(unknown))
	assert.True(t, IsRetryable(unknown), "unknown errors are treated as transient")
}

func TestClassify_NumbersOutsideStatusAreIgnored(t *testing.T) {
	for _, msg := range []string{
		"request req_413f reset by peer",
		"proxy 10.0.0.7:4130 refused the connection",
		"API returned unexpected status code: 4130",
	} {
		err := errors.New(msg)
		got := Classify(err)
		assert.NotErrorIs(t, got, ErrInputTooLarge, msg)
		assert.True(t, IsRetryable(got), msg)
	}
}

func TestIsRetryable_Nil(t *testing.T) {
	assert.False(t, IsRetryable(nil))
}
