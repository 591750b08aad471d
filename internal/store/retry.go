package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds a single storage round trip: each attempt gets its own
// deadline and transient failures are retried with exponential backoff.
type RetryPolicy struct {
	MaxAttempts     int
	CallTimeout     time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy matches the config defaults.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     3,
	CallTimeout:     2 * time.Second,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     time.Second,
}

// NoRetry runs an operation exactly once.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// Do runs op until it succeeds, fails permanently, or runs out of attempts.
// Exhausted retries are reported as ErrFatal wrapping the last transient error.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		callCtx, cancel := p.callContext(ctx)
		defer cancel()

		err := classify(op(callCtx))
		if err != nil && !IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(p.backoff()), backoff.WithMaxTries(uint(p.attempts())))

	if err != nil && IsTransient(err) {
		logg.Error("store", fmt.Sprintf("Storage call failed after %d attempts", attempts), err)
		return fmt.Errorf("%w after %d attempts: %w", ErrFatal, attempts, err)
	}
	return err
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) backoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

func (p RetryPolicy) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.CallTimeout)
}
