package advisory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Middleware wraps a Critic with extra behaviour.
type Middleware func(Critic) Critic

// Chain applies middlewares so the first one listed is outermost.
func Chain(c Critic, mws ...Middleware) Critic {
	for i := len(mws) - 1; i >= 0; i-- {
		c = mws[i](c)
	}
	return c
}

// WithTimeout bounds every critique call.
func WithTimeout(d time.Duration) Middleware {
	return func(next Critic) Critic {
		if d <= 0 {
			return next
		}
		return CriticFunc(func(ctx context.Context, req Request) ([]Finding, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next.Critique(ctx, req)
		})
	}
}

// WithRateLimit allows at most perSecond calls per second across all
// callers sharing the returned critic.
func WithRateLimit(perSecond float64) Middleware {
	return func(next Critic) Critic {
		if perSecond <= 0 {
			return next
		}
		limiter := rate.NewLimiter(rate.Limit(perSecond), 1)
		return CriticFunc(func(ctx context.Context, req Request) ([]Finding, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit: %w", err)
			}
			return next.Critique(ctx, req)
		})
	}
}

// WithStats records each call's latency in stats and, when non-nil, obs.
func WithStats(stats *Stats, obs prometheus.Observer) Middleware {
	return func(next Critic) Critic {
		return CriticFunc(func(ctx context.Context, req Request) ([]Finding, error) {
			start := time.Now()
			out, err := next.Critique(ctx, req)
			elapsed := time.Since(start)
			if stats != nil {
				stats.Record(elapsed.Milliseconds(), err != nil)
			}
			if obs != nil {
				obs.Observe(elapsed.Seconds())
			}
			return out, err
		})
	}
}

// RetryPolicy controls WithRetry. A nil Backoff uses the package Backoff;
// a provider Retry-After hint takes precedence over it.
type RetryPolicy struct {
	MaxRetries int
	Backoff    func(attempt int) time.Duration
	Logger     *slog.Logger
}

// WithRetry retries calls that fail with a RetryableError, and calls that
// ran out their own deadline while ctx is still live.
func WithRetry(p RetryPolicy) Middleware {
	if p.Backoff == nil {
		p.Backoff = Backoff
	}
	return func(next Critic) Critic {
		return CriticFunc(func(ctx context.Context, req Request) ([]Finding, error) {
			var lastErr error
			for attempt := 0; attempt <= p.MaxRetries; attempt++ {
				if attempt > 0 {
					wait := retryDelay(lastErr, attempt-1, p.Backoff)
					if p.Logger != nil {
						p.Logger.Warn("retrying critique", "doc_id", req.DocumentID, "attempt", attempt, "backoff", wait, "error", lastErr)
					}
					select {
					case <-ctx.Done():
						return nil, ctx.Err()
					case <-time.After(wait):
					}
				}
				out, err := next.Critique(ctx, req)
				if err == nil {
					return out, nil
				}
				if ctx.Err() != nil {
					return nil, err
				}
				if !IsRetryable(err) && !errors.Is(err, context.DeadlineExceeded) {
					return nil, err
				}
				lastErr = err
			}
			return nil, fmt.Errorf("%w: retries exhausted: %w", ErrAnalysisFailed, lastErr)
		})
	}
}
