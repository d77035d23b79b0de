// Package resilience wraps outbound calls with a circuit breaker and
// exponential-backoff retry.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

// Permanent marks err as not worth retrying. Retry returns the unwrapped error.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry runs fn until it succeeds, returns a Permanent error, the context
// is done, or MaxRetries retries have been spent.
func Retry(ctx context.Context, cfg Config, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialBackoff > 0 {
		b.InitialInterval = cfg.InitialBackoff
	}
	b.MaxElapsedTime = 0

	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	err := backoff.Retry(fn, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx))
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		return ctx.Err()
	}
	return err
}

// NewCircuitBreaker trips after at least 5 requests in a 30s window when 60%
// or more failed, and half-opens after 10s.
func NewCircuitBreaker(name string, isSuccessful func(error) bool) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		IsSuccessful: isSuccessful,
	})
}

// IsOpen reports whether err came from a breaker refusing the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
