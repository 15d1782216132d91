package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dramaforge/internal/events"
	"dramaforge/internal/usage"
)

const namespace = "dramaforge"

// Metrics holds every instrument. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	WorkflowRuns    *prometheus.CounterVec
	ActiveProjects  prometheus.Gauge
	StageExecutions *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	StageRetries    *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	CheckpointOps   *prometheus.CounterVec
	GeneratorCalls  *prometheus.CounterVec
	GeneratorCost   *prometheus.CounterVec

	mu     sync.Mutex
	starts map[string]time.Time
}

// New registers all instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		WorkflowRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_runs_total",
				Help:      "Project runs by terminal outcome",
			},
			[]string{"outcome"},
		),
		ActiveProjects: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_projects",
				Help:      "Projects currently running or paused",
			},
		),
		StageExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_executions_total",
				Help:      "Stage executions by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Wall time from stage start to a terminal stage event",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
			},
			[]string{"stage"},
		),
		StageRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_retries_total",
				Help:      "Retry attempts scheduled per stage",
			},
			[]string{"stage"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Content cache lookups by result",
			},
			[]string{"result"},
		),
		CheckpointOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoint_operations_total",
				Help:      "Checkpoint store operations by kind and outcome",
			},
			[]string{"op", "outcome"},
		),
		GeneratorCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generator_calls_total",
				Help:      "Billed generator calls by kind and provider",
			},
			[]string{"kind", "provider"},
		),
		GeneratorCost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generator_cost_usd_total",
				Help:      "Estimated generator spend in USD",
			},
			[]string{"kind"},
		),
		starts: make(map[string]time.Time),
	}
}

// Registry exposes the private registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// CheckpointOp counts a checkpoint store operation.
func (m *Metrics) CheckpointOp(op string, err error) {
	if m == nil {
		return
	}
	m.CheckpointOps.WithLabelValues(op, outcome(err)).Inc()
}

// UsageRecorded counts a billed generator call.
func (m *Metrics) UsageRecorded(r usage.Record) {
	if m == nil {
		return
	}
	m.GeneratorCalls.WithLabelValues(string(r.Kind), r.Provider).Inc()
	m.GeneratorCost.WithLabelValues(string(r.Kind)).Add(r.Cost)
}

// Listener returns a bus listener that maintains the stage and workflow
// instruments.
func (m *Metrics) Listener() events.Listener {
	return func(evt events.Event) error {
		if m == nil {
			return nil
		}
		key := evt.ProjectID + "/" + evt.StageID
		switch evt.Type {
		case events.WorkflowStart:
			// Pause and resume keep the project active; only terminal events release it.
			m.ActiveProjects.Inc()
		case events.WorkflowComplete:
			m.finishWorkflow("completed")
		case events.WorkflowFail:
			m.finishWorkflow("failed")
		case events.WorkflowCancelled:
			m.finishWorkflow("cancelled")
		case events.StageStart:
			m.mu.Lock()
			m.starts[key] = evt.Timestamp
			m.mu.Unlock()
		case events.StageRetry:
			m.StageRetries.WithLabelValues(evt.StageID).Inc()
		case events.StageComplete:
			m.finishStage(key, evt, "completed")
		case events.StageFail:
			m.finishStage(key, evt, "failed")
		case events.StageSkipped:
			m.finishStage(key, evt, "skipped")
		}
		return nil
	}
}

func (m *Metrics) finishWorkflow(result string) {
	m.WorkflowRuns.WithLabelValues(result).Inc()
	m.ActiveProjects.Dec()
}

func (m *Metrics) finishStage(key string, evt events.Event, result string) {
	m.StageExecutions.WithLabelValues(evt.StageID, result).Inc()
	m.mu.Lock()
	started, ok := m.starts[key]
	delete(m.starts, key)
	m.mu.Unlock()
	if ok && !evt.Timestamp.IsZero() {
		m.StageDuration.WithLabelValues(evt.StageID).Observe(evt.Timestamp.Sub(started).Seconds())
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
