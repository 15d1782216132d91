package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dramaforge/internal/contentcache"
	"dramaforge/internal/pipeline"
	"dramaforge/internal/retry"
	"dramaforge/internal/services"
	"dramaforge/internal/usage"
)

func noop(context.Context, *pipeline.StageContext) (any, error) { return nil, nil }

func TestRegistryPreservesOrderAndRejectsDuplicates(t *testing.T) {
	reg, err := pipeline.NewRegistry(
		pipeline.Definition{ID: "parse", Execute: noop},
		pipeline.Definition{ID: "script", Execute: noop},
		pipeline.Definition{ID: "export", Execute: noop},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	ids := reg.IDs()
	if len(ids) != 3 || ids[0] != "parse" || ids[2] != "export" {
		t.Fatalf("unexpected order %v", ids)
	}
	if i, ok := reg.Index("script"); !ok || i != 1 {
		t.Fatalf("unexpected index %d %v", i, ok)
	}
	if reg.At(0).Name != "parse" {
		t.Fatalf("expected name to default to id")
	}

	if _, err := pipeline.NewRegistry(
		pipeline.Definition{ID: "a", Execute: noop},
		pipeline.Definition{ID: "a", Execute: noop},
	); err == nil {
		t.Fatal("expected duplicate id error")
	}
	if _, err := pipeline.NewRegistry(pipeline.Definition{ID: "a"}); err == nil {
		t.Fatal("expected missing executor error")
	}
}

func TestWithOptional(t *testing.T) {
	reg, _ := pipeline.NewRegistry(
		pipeline.Definition{ID: "voice", Execute: noop},
		pipeline.Definition{ID: "lipsync", Execute: noop, Optional: false},
	)
	opt, err := reg.WithOptional("lipsync")
	if err != nil {
		t.Fatalf("WithOptional: %v", err)
	}
	if !opt.At(1).Optional || opt.At(0).Optional || reg.At(1).Optional {
		t.Fatal("expected only the copy's lipsync to be optional")
	}
	if _, err := reg.WithOptional("nope"); err == nil {
		t.Fatal("expected unknown stage error")
	}
}

func TestGateBlocksUntilResume(t *testing.T) {
	var gate pipeline.Gate
	gate.Pause()
	released := make(chan struct{})
	go func() {
		_ = gate.Wait(context.Background())
		close(released)
	}()
	select {
	case <-released:
		t.Fatal("wait returned while paused")
	case <-time.After(20 * time.Millisecond):
	}
	gate.Resume()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("wait did not return after resume")
	}
}

func TestGateWaitHonoursContext(t *testing.T) {
	var gate pipeline.Gate
	gate.Pause()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := gate.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func newContext(t *testing.T, tk pipeline.Toolkit) *pipeline.StageContext {
	t.Helper()
	return pipeline.NewStageContext(pipeline.StageParams{
		ProjectID: "p",
		Stage:     "render",
		Settings:  pipeline.Settings{Style: "ink", AspectRatio: "16:9"},
		Toolkit:   tk,
		Data:      map[pipeline.StageID]json.RawMessage{"parse": json.RawMessage(`{"title":"T"}`)},
	})
}

func TestOutputDecodesPriorStages(t *testing.T) {
	sc := newContext(t, pipeline.Toolkit{})
	got, err := pipeline.Output[struct{ Title string }](sc, "parse")
	if err != nil || got.Title != "T" {
		t.Fatalf("unexpected output %+v %v", got, err)
	}
	if _, err := pipeline.Output[struct{}](sc, "script"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing prerequisite, got %v", err)
	}
}

func TestReportIsMonotonicAndClamped(t *testing.T) {
	var seen []float64
	sc := pipeline.NewStageContext(pipeline.StageParams{Progress: func(p float64) { seen = append(seen, p) }})
	for _, p := range []float64{10, 5, 50, 150, 90} {
		sc.Report(p)
	}
	if len(seen) != 3 || seen[0] != 10 || seen[1] != 50 || seen[2] != 100 {
		t.Fatalf("unexpected progress %v", seen)
	}
}

func TestInvokeCachesAndSkipsUsageOnHit(t *testing.T) {
	ledger := usage.NewLedger(nil)
	tk := pipeline.Toolkit{Cache: contentcache.New(contentcache.Options{}), Retry: retry.Once(), Ledger: ledger}
	var calls atomic.Int32
	call := pipeline.Call[string]{
		Op:    "image",
		Input: map[string]string{"prompt": "a castle"},
		Usage: func(string) usage.Record { return usage.Record{Kind: usage.KindImage, Provider: "acme", Units: 1} },
		Do: func(context.Context) (string, error) {
			calls.Add(1)
			return "img://castle", nil
		},
	}

	for range 2 {
		got, err := pipeline.Invoke(context.Background(), newContext(t, tk), call)
		if err != nil || got != "img://castle" {
			t.Fatalf("Invoke: %q %v", got, err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", calls.Load())
	}
	if records := ledger.Records(); len(records) != 1 || records[0].Stage != "render" {
		t.Fatalf("expected one usage record tagged with the stage, got %+v", records)
	}
}

func TestInvokeSingleFlight(t *testing.T) {
	tk := pipeline.Toolkit{Cache: contentcache.New(contentcache.Options{}), Retry: retry.Once()}
	sc := newContext(t, tk)
	var calls atomic.Int32
	release := make(chan struct{})
	call := pipeline.Call[int]{
		Op:    "video",
		Input: "same",
		Do: func(context.Context) (int, error) {
			calls.Add(1)
			<-release
			return 42, nil
		},
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]int, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = pipeline.Invoke(context.Background(), sc, call)
		}()
	}
	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected 1 upstream call, got %d", calls.Load())
	}
	for i, v := range results {
		if v != 42 {
			t.Fatalf("caller %d got %d", i, v)
		}
	}
}

func TestInvokeRetriesTransientFailures(t *testing.T) {
	var retries []int
	policy := retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2, IsRetryable: services.IsRetryable}
	sc := pipeline.NewStageContext(pipeline.StageParams{
		Stage:   "voice",
		Toolkit: pipeline.Toolkit{Retry: policy},
		OnRetry: func(attempt int, _ time.Duration, _ error) { retries = append(retries, attempt) },
	})
	var calls int
	got, err := pipeline.Invoke(context.Background(), sc, pipeline.Call[string]{
		Op: "speech",
		Do: func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", services.Wrap(services.ErrTransient, "voice", "speech", "provider busy", nil)
			}
			return "audio://1", nil
		},
	})
	if err != nil || got != "audio://1" || calls != 3 {
		t.Fatalf("expected success on third attempt, got %q %v calls=%d", got, err, calls)
	}
	if len(retries) != 2 {
		t.Fatalf("expected 2 retry notifications, got %v", retries)
	}
}

func TestFanOutBoundsConcurrency(t *testing.T) {
	sc := pipeline.NewStageContext(pipeline.StageParams{Toolkit: pipeline.Toolkit{Concurrency: 3}})
	var inFlight, peak atomic.Int32
	err := pipeline.FanOut(context.Background(), sc, 12, func(context.Context, int) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})
	if err != nil {
		t.Fatalf("FanOut: %v", err)
	}
	if peak.Load() > 3 {
		t.Fatalf("concurrency exceeded: %d", peak.Load())
	}
	if sc.Progress() != 100 {
		t.Fatalf("expected full progress, got %v", sc.Progress())
	}
}

func TestFanOutStopsIssuingAfterCancel(t *testing.T) {
	sc := pipeline.NewStageContext(pipeline.StageParams{Toolkit: pipeline.Toolkit{Concurrency: 1}})
	ctx, cancel := context.WithCancel(context.Background())
	var started atomic.Int32
	err := pipeline.FanOut(ctx, sc, 10, func(context.Context, int) error {
		if started.Add(1) == 2 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if started.Load() != 2 {
		t.Fatalf("expected no items after cancel, started %d", started.Load())
	}
}

func TestFanOutPauseHoldsNextItem(t *testing.T) {
	gate := &pipeline.Gate{}
	var started atomic.Int32
	sc := pipeline.NewStageContext(pipeline.StageParams{
		Toolkit: pipeline.Toolkit{Concurrency: 1, Gate: gate},
		Progress: func(p float64) {
			if p >= 40 {
				gate.Pause()
			}
		},
	})
	done := make(chan error, 1)
	go func() {
		done <- pipeline.FanOut(context.Background(), sc, 10, func(context.Context, int) error {
			started.Add(1)
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	if got := started.Load(); got != 4 {
		t.Fatalf("expected 4 items before pause took hold, got %d", got)
	}
	gate.Resume()
	// Report keeps firing past 40%, so the gate closes again after each item.
	for started.Load() < 10 {
		time.Sleep(5 * time.Millisecond)
		gate.Resume()
	}
	if err := <-done; err != nil {
		t.Fatalf("FanOut: %v", err)
	}
}

func TestFanOutFailsOnFirstError(t *testing.T) {
	sc := pipeline.NewStageContext(pipeline.StageParams{Toolkit: pipeline.Toolkit{Concurrency: 2}})
	boom := errors.New("boom")
	_, err := pipeline.Map(context.Background(), sc, []int{1, 2, 3, 4}, func(_ context.Context, v int) (int, error) {
		if v == 2 {
			return 0, boom
		}
		return v * 2, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
