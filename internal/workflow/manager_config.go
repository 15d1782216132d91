package workflow

import (
	"errors"
	"time"

	"dramaforge/internal/pipeline"
	"dramaforge/internal/retry"
	"dramaforge/internal/services"
)

// callPolicy is the retry policy applied to each generator call.
func (m *Manager) callPolicy() retry.Policy {
	if !m.cfg.Pipeline.EnableRetry {
		return retry.Once()
	}
	r := m.cfg.Retry
	return retry.Policy{
		MaxAttempts:  r.MaxAttempts,
		InitialDelay: time.Duration(r.InitialDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(r.MaxDelayMS) * time.Millisecond,
		Multiplier:   r.Multiplier,
		IsRetryable:  services.IsRetryable,
	}
}

// stagePolicy retries a whole stage. A stage whose generator call already
// exhausted its own retries is not retried again.
func (m *Manager) stagePolicy() retry.Policy {
	p := m.callPolicy()
	p.IsRetryable = func(err error) bool {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			return false
		}
		return services.IsRetryable(err)
	}
	return p
}

// concurrency is the fan-out width inside a stage.
func (m *Manager) concurrency() int {
	if !m.cfg.Pipeline.EnableParallel {
		return 1
	}
	return max(m.cfg.Pipeline.MaxConcurrency, 1)
}

// toolkitLocked assembles the shared machinery for one project run.
func (m *Manager) toolkitLocked(ps *projectState) pipeline.Toolkit {
	tk := pipeline.Toolkit{
		Retry:       m.callPolicy(),
		Ledger:      ps.ledger,
		Concurrency: m.concurrency(),
		Logger:      ps.logger,
	}
	if ps.run != nil {
		tk.Gate = ps.run.gate
	}
	if m.cache != nil {
		tk.Cache = m.cache
		tk.CacheTTL = m.cfg.CacheTTL()
	}
	return tk
}
