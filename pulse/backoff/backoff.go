// Package backoff retries lock-store calls with bounded, growing delays.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/teranos/cadence/errors"
)

// Strategy computes the delay before retry attempt n (1-indexed)
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant waits the same interval before every retry
type Constant time.Duration

// Delay returns the fixed interval
func (c Constant) Delay(int) time.Duration {
	return time.Duration(c)
}

// Exponential doubles the delay each attempt, capped at Max.
// With Jitter set the delay is drawn uniformly from [0, capped delay] so that
// nodes released by the same outage do not retry in lockstep.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  bool
}

// Delay returns Initial * 2^(attempt-1), capped at Max
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		d = float64(e.Max)
	}
	if e.Jitter {
		d = rand.Float64() * d //nolint:gosec // jitter does not need crypto rand
	}
	return time.Duration(d)
}

// Policy bounds a retry loop
type Policy struct {
	Attempts int // total tries including the first; < 1 means 1
	Strategy Strategy
}

// Retry calls fn until it succeeds, retryable(err) is false, attempts run
// out, or ctx is done. It returns the last error from fn, or ctx.Err() when
// cancelled while waiting. onRetry, if non-nil, is called before each wait.
func Retry(ctx context.Context, p Policy, retryable func(error) bool, onRetry func(attempt int, err error, wait time.Duration), fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	strategy := p.Strategy
	if strategy == nil {
		strategy = Constant(0)
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts || (retryable != nil && !retryable(err)) {
			break
		}

		wait := strategy.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.CombineErrors(ctx.Err(), err)
		case <-timer.C:
		}
	}
	return err
}
