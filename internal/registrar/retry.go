// Retry policy shared by both drivers: up to 3 attempts with exponential
// backoff of 2^attempt seconds. HTTP 429 and 5xx responses and transport
// errors are retryable; every other HTTP error surfaces immediately.
package registrar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const maxAttempts = 3

// retryBaseDelay is scaled by 2^attempt between tries. Variable so tests can
// collapse the backoff to nothing.
var retryBaseDelay = time.Second

// attemptFunc performs one upstream attempt. It reports whether a failure is
// worth retrying.
type attemptFunc func() (retryable bool, err error)

// withRetries runs fn up to maxAttempts times, sleeping 2^attempt seconds
// between failures (context-aware). When every attempt fails on a retryable
// error the result is ErrMaxRetries wrapping the last failure.
func withRetries(ctx context.Context, lg zerolog.Logger, op string, fn attemptFunc) error {
	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			lg.Warn().
				Str("op", op).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Err(last).
				Msg("registrar retry")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrNetwork, ctx.Err())
			}
		}
		retryable, err := fn()
		if err == nil {
			return nil
		}
		last = err
		if !retryable {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrMaxRetries, op, last)
}

// classifyStatus maps an HTTP status code to (retryable, error). 2xx returns
// (false, nil).
func classifyStatus(status int) (retryable bool, err error) {
	switch {
	case status >= 200 && status < 300:
		return false, nil
	case status == http.StatusTooManyRequests || status >= 500:
		return true, fmt.Errorf("%w: status %d", ErrHTTP, status)
	default:
		return false, fmt.Errorf("%w: status %d", ErrHTTP, status)
	}
}
