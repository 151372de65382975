package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/openai/openai-go"
)

// Error kinds shared by every provider. Provider errors are wrapped so that
// errors.Is(err, ErrX) identifies the kind while the original cause stays in
// the chain.
var (
	ErrTimeout         = errors.New("llm call timed out")
	ErrMalformedOutput = errors.New("llm output does not match the schema")
	ErrRateLimited     = errors.New("llm rate limited")
	ErrTransport       = errors.New("llm transport failure")
)

// StatusError is a non-200 HTTP response from a raw-HTTP provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// classify wraps err with the matching kind. Errors that already carry a
// kind, and cancellation by the caller, are returned unchanged.
func classify(provider string, err error) error {
	if err == nil || hasKind(err) || errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", provider, ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w: %w", provider, ErrTimeout, err)
	}

	if status := statusCode(err); status == http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w: %w", provider, ErrRateLimited, err)
	}
	return fmt.Errorf("%s: %w: %w", provider, ErrTransport, err)
}

func hasKind(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrMalformedOutput) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrTransport)
}

// statusCode extracts the HTTP status from an error chain, or 0.
func statusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Retryable reports whether a call that failed with err may succeed when
// repeated unchanged: rate limits, 5xx responses and connection failures.
// Malformed output is not retryable here; callers re-prompt instead.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrRateLimited):
		return true
	case errors.Is(err, ErrTransport):
		status := statusCode(err)
		return status == 0 || status >= 500
	default:
		return false
	}
}

// IsTransportFailure reports whether err means the model could not be
// reached at all (timeouts, transport errors, open breaker, rate limits).
func IsTransportFailure(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrRateLimited)
}
