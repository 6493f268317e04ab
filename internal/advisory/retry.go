package advisory

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// MaxRetries is the number of extra attempts WithRetry makes.
const MaxRetries = 3

const maxBackoff = 30 * time.Second

// RetryableError is a transient provider failure: throttling, overload or a
// server-side error.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration // Provider hint, zero when absent
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("provider unavailable (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// IsRetryable reports whether err is a RetryableError.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// retryDelay picks the wait before the next attempt, preferring the
// provider's hint when it gave one.
func retryDelay(err error, attempt int, backoff func(int) time.Duration) time.Duration {
	var retryErr *RetryableError
	if errors.As(err, &retryErr) && retryErr.RetryAfter > 0 {
		return min(retryErr.RetryAfter, maxBackoff)
	}
	return backoff(attempt)
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Backoff returns exponential backoff for attempt n (0-indexed) plus up to
// 50% jitter, capped at 30s before jitter.
func Backoff(attempt int) time.Duration {
	base := min(time.Duration(1<<uint(attempt))*time.Second, maxBackoff)
	return base + time.Duration(rand.Int64N(int64(base)/2))
}
