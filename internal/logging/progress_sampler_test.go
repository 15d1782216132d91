package logging

import "testing"

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(25)
	steps := []struct {
		subject string
		percent float64
		want    bool
	}{
		{"p/render", 0, true},
		{"p/render", 10, false},
		{"p/render", 26, true},
		{"p/render", 30, false},
		{"p/voice", 30, true},
		{"p/render", 100, true},
		{"p/render", 100, false},
	}
	for i, step := range steps {
		if got := s.ShouldLog(step.subject, step.percent); got != step.want {
			t.Fatalf("step %d (%s %.0f): got %v want %v", i, step.subject, step.percent, got, step.want)
		}
	}
	s.Forget("p/render")
	if !s.ShouldLog("p/render", 0) {
		t.Fatal("expected forgotten subject to log again")
	}
}

func TestFanoutHandlerSkipsDisabled(t *testing.T) {
	if h := TeeHandler(nil, nil); h != (NoopHandler{}) {
		t.Fatalf("expected noop handler, got %T", h)
	}
}
