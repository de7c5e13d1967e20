package retry

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrExhausted is returned when every attempt failed with a transient error.
	ErrExhausted = errors.New("retries exhausted")
)
