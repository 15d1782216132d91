package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"dramaforge/internal/events"
	"dramaforge/internal/usage"
)

func TestListenerTracksStagesAndWorkflows(t *testing.T) {
	m := New()
	listen := m.Listener()
	start := time.Now()

	_ = listen(events.Event{Type: events.WorkflowStart, ProjectID: "p"})
	_ = listen(events.Event{Type: events.StageStart, ProjectID: "p", StageID: "parse", Timestamp: start})
	_ = listen(events.Event{Type: events.StageRetry, ProjectID: "p", StageID: "parse"})
	_ = listen(events.Event{Type: events.StageComplete, ProjectID: "p", StageID: "parse", Timestamp: start.Add(2 * time.Second)})
	_ = listen(events.Event{Type: events.StageSkipped, ProjectID: "p", StageID: "lipsync"})

	if got := testutil.ToFloat64(m.ActiveProjects); got != 1 {
		t.Fatalf("expected 1 active project, got %v", got)
	}
	if got := testutil.ToFloat64(m.StageExecutions.WithLabelValues("parse", "completed")); got != 1 {
		t.Fatalf("expected 1 completed parse, got %v", got)
	}
	if got := testutil.ToFloat64(m.StageRetries.WithLabelValues("parse")); got != 1 {
		t.Fatalf("expected 1 retry, got %v", got)
	}
	if got := testutil.CollectAndCount(m.StageDuration); got != 1 {
		t.Fatalf("expected 1 duration series, got %d", got)
	}

	_ = listen(events.Event{Type: events.WorkflowComplete, ProjectID: "p"})
	if got := testutil.ToFloat64(m.ActiveProjects); got != 0 {
		t.Fatalf("expected 0 active projects, got %v", got)
	}
	if got := testutil.ToFloat64(m.WorkflowRuns.WithLabelValues("completed")); got != 1 {
		t.Fatalf("expected 1 completed run, got %v", got)
	}
}

func TestHooksAndHandler(t *testing.T) {
	m := New()
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.CheckpointOp("save", nil)
	m.CheckpointOp("save", errors.New("disk full"))
	m.UsageRecorded(usage.Record{Kind: usage.KindImage, Provider: "acme", Cost: 0.04})

	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")); got != 2 {
		t.Fatalf("expected 2 misses, got %v", got)
	}
	if got := testutil.ToFloat64(m.CheckpointOps.WithLabelValues("save", "error")); got != 1 {
		t.Fatalf("expected 1 failed save, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "dramaforge_generator_calls_total") || !strings.Contains(body, "dramaforge_cache_lookups_total") {
		t.Fatalf("expected instruments in exposition, got:\n%s", body)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CacheLookup(true)
	m.CheckpointOp("load", nil)
	m.UsageRecorded(usage.Record{})
	if err := m.Listener()(events.Event{Type: events.WorkflowStart}); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
