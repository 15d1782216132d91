// Package retry runs fallible operations under a bounded, capped exponential
// backoff policy.
//
// A Policy carries no mutable state and is safe to share between goroutines.
// Backoff sleeps observe context cancellation, so cancelling a run interrupts
// a pending retry immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"dramaforge/internal/services"
)

const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 10 * time.Second
	DefaultMultiplier   = 2.0
)

// Classifier decides whether an error is worth another attempt.
type Classifier func(error) bool

// Hook observes a scheduled retry. attempt is the 1-based attempt that just
// failed and delay is the sleep before the next one.
type Hook func(attempt int, delay time.Duration, err error)

// Policy describes bounded retries with exponential backoff.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	IsRetryable  Classifier
	OnRetry      Hook
}

// DefaultPolicy returns the stock policy: three attempts, 1s doubling to a 10s cap,
// retrying only network and timeout class errors.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
		IsRetryable:  services.IsRetryable,
	}
}

// Once returns a policy that never retries.
func Once() Policy {
	return Policy{MaxAttempts: 1}
}

// WithHook returns a copy of p that additionally calls hook before each sleep.
func (p Policy) WithHook(hook Hook) Policy {
	prev := p.OnRetry
	if prev == nil {
		p.OnRetry = hook
		return p
	}
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		prev(attempt, delay, err)
		hook(attempt, delay, err)
	}
	return p
}

// Delay returns the sleep before retry n (1-based): min(initial * multiplier^(n-1), max).
func (p Policy) Delay(n int) time.Duration {
	if n < 1 || p.InitialDelay <= 0 {
		return 0
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(multiplier, float64(n-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// ExhaustedError reports that every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. Non-retryable errors are returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(context.Context, int) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	classify := p.IsRetryable
	if classify == nil {
		classify = services.IsRetryable
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		value, err := op(ctx, attempt)
		if err == nil {
			return value, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return zero, err
		}
		if !classify(err) {
			return zero, err
		}
		if attempt >= attempts {
			if attempts == 1 {
				return zero, err
			}
			return zero, &ExhaustedError{Attempts: attempt, Err: err}
		}
		delay := p.Delay(attempt)
		if hint, ok := retryAfter(err); ok {
			delay = hint
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// RetryAfterError is implemented by errors that carry a server-provided wait,
// such as an HTTP Retry-After header. The hint replaces the computed backoff
// for that retry and is still capped by MaxDelay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

func retryAfter(err error) (time.Duration, bool) {
	var hinted RetryAfterError
	if errors.As(err, &hinted) && hinted.RetryAfter() > 0 {
		return hinted.RetryAfter(), true
	}
	return 0, false
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(context.Context, int) error) error {
	_, err := Do(ctx, p, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, op(ctx, attempt)
	})
	return err
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
