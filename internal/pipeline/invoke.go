package pipeline

import (
	"context"
	"time"

	"dramaforge/internal/contentcache"
	"dramaforge/internal/logging"
	"dramaforge/internal/retry"
	"dramaforge/internal/usage"
)

// Call describes one external generator invocation.
type Call[T any] struct {
	// Op labels the call in logs and distinguishes calls within a stage.
	Op string
	// Input is hashed with the stage id and settings to form the cache key.
	Input any
	// NoCache forces the call to run even when caching is enabled.
	NoCache bool
	// Retryable overrides the policy classifier for this call.
	Retryable retry.Classifier
	// Usage describes what a successful upstream call cost. It is not called
	// for cache hits.
	Usage func(T) usage.Record
	Do    func(ctx context.Context) (T, error)
}

// CacheKey returns the content key for a call input within this stage.
func (sc *StageContext) CacheKey(op string, input any) string {
	return contentcache.Key(string(sc.Stage)+"/"+op, input, sc.Settings)
}

// Invoke runs call under the stage's retry policy and, unless disabled,
// behind the content cache. Concurrent invocations with identical inputs
// collapse into one upstream call.
func Invoke[T any](ctx context.Context, sc *StageContext, call Call[T]) (T, error) {
	policy := sc.Retry
	if call.Retryable != nil {
		policy.IsRetryable = call.Retryable
	}
	policy = policy.WithHook(func(attempt int, delay time.Duration, err error) {
		sc.Logger.Debug("generator call retry scheduled",
			logging.String("op", call.Op),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Duration("delay", delay),
			logging.Error(err))
		if sc.onRetry != nil {
			sc.onRetry(attempt, delay, err)
		}
	})

	upstream := func(ctx context.Context) (T, error) {
		return retry.Do(ctx, policy, func(ctx context.Context, _ int) (T, error) {
			value, err := call.Do(ctx)
			if err == nil && call.Usage != nil && sc.Ledger != nil {
				record := call.Usage(value)
				if record.Stage == "" {
					record.Stage = string(sc.Stage)
				}
				sc.Ledger.Add(record)
			}
			return value, err
		})
	}

	if sc.Cache == nil || call.NoCache {
		return upstream(ctx)
	}
	value, hit, err := contentcache.Remember(ctx, sc.Cache, sc.CacheKey(call.Op, call.Input), sc.CacheTTL, upstream)
	if err == nil && hit {
		sc.Logger.Debug("generator call served from cache", logging.String("op", call.Op))
	}
	return value, err
}
