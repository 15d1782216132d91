package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"dramaforge/internal/checkpoint"
	"dramaforge/internal/config"
	"dramaforge/internal/contentcache"
	"dramaforge/internal/events"
	"dramaforge/internal/logging"
	"dramaforge/internal/pipeline"
	"dramaforge/internal/usage"
)

// Manager owns every project in the process and their runners.
type Manager struct {
	cfg         *config.Config
	registry    *pipeline.Registry
	checkpoints *checkpoint.Store
	cache       *contentcache.Cache
	bus         *events.Bus
	logger      *slog.Logger
	tracer      trace.Tracer
	onUsage     func(usage.Record)
	now         func() time.Time
	projectLogs *ProjectLogger

	mu       sync.Mutex
	projects map[string]*projectState
	wg       sync.WaitGroup
	closed   bool
	lastErr  error
}

// Options supplies the Manager's collaborators.
type Options struct {
	// Registry is the ordered stage list. Required.
	Registry *pipeline.Registry
	// Checkpoints persists project snapshots. Nil, or enable_checkpoint=false,
	// disables checkpointing.
	Checkpoints *checkpoint.Store
	// Cache backs generator calls. Nil, or enable_cache=false, disables it.
	Cache  *contentcache.Cache
	Bus    *events.Bus
	Logger *slog.Logger
	// OnUsage observes every billed generator call.
	OnUsage func(usage.Record)
	Now     func() time.Time
}

// projectState is the manager's bookkeeping for one project. Every field is
// guarded by Manager.mu.
type projectState struct {
	project *Project
	ledger  *usage.Ledger
	run     *runHandle
	logger  *slog.Logger

	lastProgressSave time.Time

	pending  []events.Event
	draining bool
}

// runHandle is the live runner of a project.
type runHandle struct {
	cancel context.CancelCauseFunc
	gate   *pipeline.Gate
	done   chan struct{}
}

var (
	errCancelled = errors.New("project cancelled")
	errShutdown  = errors.New("manager shutting down")
)

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, opts Options) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("workflow: config is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("workflow: stage registry is required")
	}
	m := &Manager{
		cfg:         cfg,
		registry:    opts.Registry,
		checkpoints: opts.Checkpoints,
		cache:       opts.Cache,
		bus:         opts.Bus,
		logger:      logging.NewComponentLogger(opts.Logger, "workflow-manager"),
		tracer:      otel.Tracer("dramaforge/workflow"),
		onUsage:     opts.OnUsage,
		now:         opts.Now,
		projectLogs: NewProjectLogger(cfg),
		projects:    make(map[string]*projectState),
	}
	if !cfg.Pipeline.EnableCheckpoint {
		m.checkpoints = nil
	}
	if !cfg.Pipeline.EnableCache {
		m.cache = nil
	}
	if m.bus == nil {
		m.bus = events.NewBus(opts.Logger)
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// Registry returns the stage list the manager runs.
func (m *Manager) Registry() *pipeline.Registry {
	return m.registry
}

// Checkpoints returns the checkpoint store, or nil when checkpointing is off.
func (m *Manager) Checkpoints() *checkpoint.Store {
	return m.checkpoints
}

// Cache returns the content cache, or nil when caching is off.
func (m *Manager) Cache() *contentcache.Cache {
	return m.cache
}

// Subscribe registers listener on the manager's event bus.
func (m *Manager) Subscribe(listener events.Listener) func() {
	return m.bus.Subscribe(listener)
}

func (m *Manager) timestamp() time.Time {
	return m.now().UTC()
}

// newStateLocked registers a project. Callers hold m.mu.
func (m *Manager) newStateLocked(p *Project) *projectState {
	ps := &projectState{project: p}
	ps.ledger = usage.NewLedger(func(r usage.Record) {
		if m.onUsage != nil {
			m.onUsage(r)
		}
	})
	ps.ledger.Restore(p.Usage)
	m.projects[p.ID] = ps
	return ps
}

// eventLocked builds an event carrying the current progress of the project.
// stageIndex may be -1 for project-level events.
func (m *Manager) eventLocked(ps *projectState, typ events.Type, stageIndex int) events.Event {
	p := ps.project
	evt := events.Event{
		Type:       typ,
		ProjectID:  p.ID,
		StageIndex: stageIndex,
		Overall:    p.Overall(),
		Timestamp:  m.timestamp(),
	}
	if stageIndex >= 0 && stageIndex < len(p.Stages) {
		st := p.Stages[stageIndex]
		evt.StageID = string(st.ID)
		evt.Progress = st.Progress
	}
	return evt
}

// queueLocked appends evt to the project's outbox. Callers hold m.mu and
// must call flush after releasing it.
func (m *Manager) queueLocked(ps *projectState, evt events.Event) {
	ps.pending = append(ps.pending, evt)
}

// flush delivers queued events in order. Only one goroutine drains a project
// at a time; a concurrent caller leaves its events to the active drainer.
func (m *Manager) flush(ps *projectState) {
	m.mu.Lock()
	if ps.draining {
		m.mu.Unlock()
		return
	}
	ps.draining = true
	for len(ps.pending) > 0 {
		evt := ps.pending[0]
		ps.pending = ps.pending[1:]
		m.mu.Unlock()
		m.bus.Emit(evt)
		m.mu.Lock()
	}
	ps.draining = false
	m.mu.Unlock()
}

// lookup returns the in-memory state of id.
func (m *Manager) lookup(id string) (*projectState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, ok := m.projects[id]
	return ps, ok
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
