package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var (
	// ErrMalformedInput means the provider rejected the text itself.
	// Retrying or splitting will not help.
	ErrMalformedInput = errors.New("malformed embedding input")

	// ErrInputTooLarge means the request exceeded a provider size or token limit.
	// Retrying the same request will not help but smaller pieces may succeed.
	ErrInputTooLarge = errors.New("embedding input too large")

	// ErrRateLimited means the provider throttled the request.
	ErrRateLimited = errors.New("embedding provider rate limited")

	// ErrUnavailable means the provider could not be reached or timed out.
	ErrUnavailable = errors.New("embedding provider unavailable")

	// ErrAuthentication means the provider rejected the credentials.
	ErrAuthentication = errors.New("embedding provider authentication failed")

	// ErrDimensionMismatch is returned when a provider answers with the wrong
	// number of vectors.
	ErrDimensionMismatch = errors.New("embedding count does not match input count")
)

// Classify maps a raw provider error onto the package sentinels.
// The original error stays in the chain. Context errors pass through untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	for _, known := range []error{ErrMalformedInput, ErrInputTooLarge, ErrRateLimited, ErrUnavailable, ErrAuthentication} {
		if errors.Is(err, known) {
			return err
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	msg := strings.ToLower(err.Error())
	if statusCode(msg) == http.StatusRequestEntityTooLarge || strings.Contains(msg, "too large") {
		return fmt.Errorf("%w: %w", ErrInputTooLarge, err)
	}

	mapped := openai.MapError(err)
	switch {
	case llms.IsRateLimitError(mapped), llms.IsQuotaExceededError(mapped):
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case llms.IsTokenLimitError(mapped):
		return fmt.Errorf("%w: %w", ErrInputTooLarge, err)
	case llms.IsInvalidRequestError(mapped), llms.IsContentFilterError(mapped):
		return fmt.Errorf("%w: %w", ErrMalformedInput, err)
	case llms.IsAuthenticationError(mapped):
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	case llms.IsTimeoutError(mapped), llms.IsProviderUnavailableError(mapped):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// statusCodePattern matches the HTTP status langchaingo's client puts in its
// errors, as in "API returned unexpected status code: 413".
var statusCodePattern = regexp.MustCompile(`status code:? (\d{3})\b`)

func statusCode(msg string) int {
	m := statusCodePattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	code, _ := strconv.Atoi(m[1])
	return code
}

// IsRetryable reports whether an embedding error is worth retrying.
// Unknown errors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, ErrMalformedInput),
		errors.Is(err, ErrInputTooLarge),
		errors.Is(err, ErrAuthentication),
		errors.Is(err, ErrDimensionMismatch):
		return false
	}
	return true
}
