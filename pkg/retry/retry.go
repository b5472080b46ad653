// Package retry re-runs idempotent-safe operations that failed with a
// transient Connection or Timeout error, backing off exponentially between
// attempts.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"

	objerr "github.com/bleepstore/objstore/pkg/errors"
)

// Policy bounds the retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Initial is the delay before the second attempt and the floor for all delays.
	Initial time.Duration
	// Max caps any single delay.
	Max time.Duration
	// Multiplier grows the delay after each failed attempt.
	Multiplier float64
	// OnRetry, if set, is called before sleeping ahead of attempt n (2-based).
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Default returns 3 attempts, 1s floor, 10s ceiling, multiplier 2.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		Initial:     time.Second,
		Max:         10 * time.Second,
		Multiplier:  2,
	}
}

// WithMaxAttempts returns a copy of p with MaxAttempts set (minimum 1).
func (p Policy) WithMaxAttempts(n int) Policy {
	if n < 1 {
		n = 1
	}
	p.MaxAttempts = n
	return p
}

// Delay returns the wait before attempt n+1 after n failed attempts.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	b := p.backOff()
	var d time.Duration
	for range n {
		d = b.NextBackOff()
	}
	return d
}

// backOff renders p as a jitter-free exponential schedule.
func (p Policy) backOff() *backoff.ExponentialBackOff {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	maxInterval := p.Max
	if maxInterval <= 0 {
		maxInterval = time.Duration(math.MaxInt64)
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: 0,
		Multiplier:          mult,
		MaxInterval:         maxInterval,
	}
	b.Reset()
	return b
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// attempts are spent. The last error is returned as-is. If ctx ends while
// waiting, the last operation error is returned rather than ctx.Err().
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		tries int
		last  error
	)
	op := func() (T, error) {
		tries++
		result, err := fn(ctx)
		last = err
		if err != nil && !objerr.IsRetryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, delay time.Duration) {
			p.OnRetry(tries+1, delay, err)
		}))
	}

	result, err := backoff.Retry(ctx, op, opts...)
	if err != nil {
		return result, last
	}
	return result, nil
}
