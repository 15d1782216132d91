package logging

import "sync"

// ProgressSampler thins progress ticks down to one per step-sized band per
// subject. The first tick for a subject always passes, as does the first tick
// at 100%.
type ProgressSampler struct {
	step float64

	mu   sync.Mutex
	seen map[string]int
}

// NewProgressSampler returns a sampler with bands of step percent (5 when
// step is not positive).
func NewProgressSampler(step float64) *ProgressSampler {
	if step <= 0 {
		step = 5
	}
	return &ProgressSampler{step: step, seen: map[string]int{}}
}

func (s *ProgressSampler) band(percent float64) int {
	return int(min(max(percent, 0), 100) / s.step)
}

// ShouldLog reports whether a tick at percent for subject moves it into a
// higher band than any tick logged so far.
func (s *ProgressSampler) ShouldLog(subject string, percent float64) bool {
	if s == nil {
		return true
	}
	b := s.band(percent)
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.seen[subject]; ok && b <= prev {
		return false
	}
	s.seen[subject] = b
	return true
}

// Forget resets subject so its next tick is logged.
func (s *ProgressSampler) Forget(subject string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.seen, subject)
	s.mu.Unlock()
}
