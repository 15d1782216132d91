package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dramaforge/internal/checkpoint"
	"dramaforge/internal/events"
	"dramaforge/internal/logging"
	"dramaforge/internal/pipeline"
	"dramaforge/internal/services"
)

// StartRequest describes a new project.
type StartRequest struct {
	// ID names the project; empty assigns a random one.
	ID    string
	Input pipeline.Input
	// Settings overlays the configured generation defaults.
	Settings pipeline.Settings
}

// Start creates a project and launches its runner.
func (m *Manager) Start(ctx context.Context, req StartRequest) (Project, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if err := checkpoint.ValidateProjectID(id); err != nil {
		return Project{}, err
	}
	if err := req.Input.Validate(); err != nil {
		return Project{}, err
	}
	settings := pipeline.SettingsFromConfig(m.cfg.Generation).Merge(req.Settings)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Project{}, errClosed("start")
	}
	if existing, ok := m.projects[id]; ok && existing.run != nil {
		m.mu.Unlock()
		return Project{}, services.Wrap(services.ErrValidation, "", "start",
			fmt.Sprintf("project %s is already running", id), nil)
	}
	ps := m.newStateLocked(newProject(id, req.Input, settings, m.registry, m.timestamp()))
	m.launchLocked(ps, "started")
	snapshot := m.snapshotLocked(ps)
	m.mu.Unlock()

	m.flush(ps)
	return snapshot, nil
}

// Resume continues a project. A paused runner is released; a project
// without a runner, including one known only from its checkpoint, gets a new
// runner that starts at the first unfinished stage.
func (m *Manager) Resume(ctx context.Context, id string) (Project, error) {
	ps, err := m.ensureLoaded(ctx, id)
	if err != nil {
		return Project{}, err
	}
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return Project{}, errClosed("resume")
		}
		if h := ps.run; h != nil {
			switch ps.project.Status {
			case StatusPaused:
				h.gate.Resume()
				ps.project.Status = StatusRunning
				ps.project.UpdatedAt = m.timestamp()
				m.queueLocked(ps, m.eventLocked(ps, events.WorkflowResumed, ps.project.CurrentStageIndex))
				snapshot := m.snapshotLocked(ps)
				m.mu.Unlock()
				m.flush(ps)
				return snapshot, nil
			case StatusRunning:
				m.mu.Unlock()
				return Project{}, services.Wrap(services.ErrValidation, "", "resume",
					fmt.Sprintf("project %s is already running", id), nil)
			default:
				// A cancelled runner is still unwinding.
				done := h.done
				m.mu.Unlock()
				select {
				case <-done:
					continue
				case <-ctx.Done():
					return Project{}, ctx.Err()
				}
			}
		}
		switch ps.project.Status {
		case StatusCompleted:
			m.mu.Unlock()
			return Project{}, services.Wrap(services.ErrValidation, "", "resume",
				fmt.Sprintf("project %s already completed", id), nil)
		case StatusFailed:
			m.mu.Unlock()
			return Project{}, services.Wrap(services.ErrValidation, "", "resume",
				fmt.Sprintf("project %s failed; retry it instead", id), nil)
		}
		m.launchLocked(ps, "resumed")
		snapshot := m.snapshotLocked(ps)
		m.mu.Unlock()
		m.flush(ps)
		return snapshot, nil
	}
}

// Retry resets the failed stage of a failed project and runs from it.
func (m *Manager) Retry(ctx context.Context, id string) (Project, error) {
	ps, err := m.ensureLoaded(ctx, id)
	if err != nil {
		return Project{}, err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Project{}, errClosed("retry")
	}
	p := ps.project
	if p.Status != StatusFailed || ps.run != nil {
		m.mu.Unlock()
		return Project{}, services.Wrap(services.ErrValidation, "", "retry",
			fmt.Sprintf("project %s is %s, not failed", id, p.Status), nil)
	}
	for i := range p.Stages {
		if p.Stages[i].Status == StageFailed {
			p.Stages[i] = StageState{
				ID:          p.Stages[i].ID,
				Name:        p.Stages[i].Name,
				Description: p.Stages[i].Description,
				Optional:    p.Stages[i].Optional,
				Status:      StagePending,
			}
		}
	}
	p.Error, p.ErrorClass = "", ""
	m.launchLocked(ps, "retrying failed stage")
	snapshot := m.snapshotLocked(ps)
	m.mu.Unlock()

	m.flush(ps)
	return snapshot, nil
}

// ensureLoaded returns the in-memory state of id, loading the latest
// checkpoint when the project is not in memory.
func (m *Manager) ensureLoaded(ctx context.Context, id string) (*projectState, error) {
	if ps, ok := m.lookup(id); ok {
		return ps, nil
	}
	p, err := m.loadProject(ctx, id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ps, ok := m.projects[id]; ok {
		return ps, nil
	}
	ps := m.newStateLocked(p)
	ps.logger = m.projectLogger(id)
	return ps, nil
}

// loadProject decodes the project stored in the latest checkpoint of id.
func (m *Manager) loadProject(ctx context.Context, id string) (*Project, error) {
	if err := checkpoint.ValidateProjectID(id); err != nil {
		return nil, err
	}
	if m.checkpoints == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "load", fmt.Sprintf("project %s not found", id), nil)
	}
	cp, found, err := m.checkpoints.LoadLatest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, services.Wrap(services.ErrNotFound, "", "load", fmt.Sprintf("project %s not found", id), nil)
	}
	var p Project
	if err := json.Unmarshal(cp.Data, &p); err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "load",
			fmt.Sprintf("decode checkpoint %s", cp.ID), err)
	}
	if err := p.restore(m.registry); err != nil {
		return nil, err
	}
	return &p, nil
}

// launchLocked starts a runner for ps. Callers hold m.mu and flush afterwards.
func (m *Manager) launchLocked(ps *projectState, detail string) {
	runCtx, cancel := context.WithCancelCause(context.Background())
	h := &runHandle{cancel: cancel, gate: &pipeline.Gate{}, done: make(chan struct{})}
	ps.run = h
	if ps.logger == nil {
		ps.logger = m.projectLogger(ps.project.ID)
	}
	ps.project.Status = StatusRunning
	ps.project.UpdatedAt = m.timestamp()

	evt := m.eventLocked(ps, events.WorkflowStart, ps.project.CurrentStageIndex)
	evt.Message = detail
	m.queueLocked(ps, evt)

	m.wg.Add(1)
	go m.run(runCtx, ps, h)
}

func (m *Manager) projectLogger(id string) *slog.Logger {
	logger, err := m.projectLogs.Logger(m.logger, id)
	if err != nil {
		logging.WarnWithContext(m.logger, "project log unavailable", "project_log_unavailable",
			logging.String(logging.FieldProjectID, id),
			logging.String(logging.FieldErrorHint, "check log_dir permissions"),
			logging.String(logging.FieldImpact, "project messages go to the daemon log only"),
			logging.Error(err))
	}
	return logger
}

// run is the runner loop of one project. Stages execute strictly in order;
// the gate is checked before each one.
func (m *Manager) run(ctx context.Context, ps *projectState, h *runHandle) {
	defer m.wg.Done()
	defer close(h.done)

	ctx = services.WithProjectID(ctx, ps.project.ID)
	ctx, span := m.tracer.Start(ctx, "workflow.project",
		trace.WithAttributes(attribute.String("project.id", ps.project.ID)))
	defer span.End()

	for {
		if err := h.gate.Wait(ctx); err != nil {
			m.interrupted(ctx, ps, h)
			return
		}
		idx, def, skip, ok := m.nextStage(ps)
		if !ok {
			m.complete(ctx, ps, h)
			return
		}
		if skip {
			m.skipStage(ctx, ps, idx, nil)
			continue
		}

		err := m.runStage(ctx, ps, idx, def)
		switch {
		case err == nil:
			m.maybeAwaitApproval(ctx, ps, h)
		case ctx.Err() != nil:
			m.interrupted(ctx, ps, h)
			return
		case def.Optional:
			m.skipStage(ctx, ps, idx, err)
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, services.Details(err).Message)
			m.failProject(ctx, ps, h, idx, err)
			return
		}
	}
}

// nextStage finds the first unfinished stage and makes it current. A stage
// that will run is claimed as running before the lock is released, so Skip
// can no longer accept it.
func (m *Manager) nextStage(ps *projectState) (int, pipeline.Definition, bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := ps.project
	for i := range p.Stages {
		st := &p.Stages[i]
		if st.Status.Done() {
			continue
		}
		p.CurrentStageIndex = i
		if !st.SkipRequested {
			st.Status = StageRunning
		}
		return i, m.registry.At(i), st.SkipRequested, true
	}
	p.CurrentStageIndex = len(p.Stages)
	return 0, pipeline.Definition{}, false, false
}

// skipStage records a stage as skipped, either on request (cause nil) or
// because an optional stage failed.
func (m *Manager) skipStage(ctx context.Context, ps *projectState, idx int, cause error) {
	m.mu.Lock()
	now := m.timestamp()
	st := &ps.project.Stages[idx]
	st.Status = StageSkipped
	st.SkipRequested = false
	st.EndedAt = &now
	evt := m.eventLocked(ps, events.StageSkipped, idx)
	if cause != nil {
		details := services.Details(cause)
		st.Error = details.Message
		st.ErrorClass = details.Class
		evt.Error = details.Message
		evt.Class = details.Class
		evt.Message = "optional stage failed"
	} else {
		evt.Message = "skip requested"
	}
	ps.project.CurrentStageIndex = idx + 1
	ps.project.UpdatedAt = now
	m.queueLocked(ps, evt)
	m.mu.Unlock()

	if cause != nil {
		logging.WarnWithContext(ps.logger, "optional stage failed; continuing", "optional_stage_skipped",
			logging.String(logging.FieldStage, string(st.ID)),
			logging.String(logging.FieldErrorHint, "inspect the stage error; the export omits this stage's output"),
			logging.String(logging.FieldImpact, "the project completes without this stage"),
			logging.Error(cause))
	}
	m.flush(ps)
	m.saveCheckpoint(ctx, ps, checkpoint.ReasonStageSkipped)
}

// maybeAwaitApproval pauses after a completed stage when auto_proceed is off
// and work remains.
func (m *Manager) maybeAwaitApproval(ctx context.Context, ps *projectState, h *runHandle) {
	if m.cfg.Pipeline.AutoProceed {
		return
	}
	m.mu.Lock()
	p := ps.project
	remaining := false
	for _, st := range p.Stages {
		if !st.Status.Done() {
			remaining = true
			break
		}
	}
	if !remaining || p.Status != StatusRunning {
		m.mu.Unlock()
		return
	}
	h.gate.Pause()
	p.Status = StatusPaused
	p.UpdatedAt = m.timestamp()
	evt := m.eventLocked(ps, events.WorkflowPaused, p.CurrentStageIndex)
	evt.Message = "awaiting approval"
	m.queueLocked(ps, evt)
	m.mu.Unlock()

	m.flush(ps)
	m.saveCheckpoint(ctx, ps, checkpoint.ReasonPaused)
}

// complete finishes a project whose stages are all done.
func (m *Manager) complete(ctx context.Context, ps *projectState, h *runHandle) {
	m.mu.Lock()
	now := m.timestamp()
	p := ps.project
	p.Status = StatusCompleted
	p.CompletedAt = &now
	p.UpdatedAt = now
	m.queueLocked(ps, m.eventLocked(ps, events.WorkflowComplete, len(p.Stages)-1))
	cp, ok := m.checkpointLocked(ps, checkpoint.ReasonCompleted)
	created := p.CreatedAt
	m.mu.Unlock()

	if ok {
		m.persist(ctx, ps, cp)
	}
	ps.logger.Info("project completed",
		logging.String(logging.FieldEventType, "workflow_complete"),
		logging.Duration("elapsed", now.Sub(created)))
	m.release(ps, h)
}

// interrupted unwinds a runner whose context ended. Cancel leaves the project
// idle; shutdown leaves it paused so the next process can resume it. Either
// way the interrupted stage is reset and its partial output discarded.
func (m *Manager) interrupted(ctx context.Context, ps *projectState, h *runHandle) {
	shutdown := context.Cause(ctx) == errShutdown

	m.mu.Lock()
	p := ps.project
	if idx := p.CurrentStageIndex; idx < len(p.Stages) && p.Stages[idx].Status == StageRunning {
		st := &p.Stages[idx]
		st.Status = StagePending
		st.Progress = 0
		st.StartedAt = nil
	}
	p.UpdatedAt = m.timestamp()
	reason := checkpoint.ReasonCancelled
	evt := m.eventLocked(ps, events.WorkflowCancelled, p.lastDone())
	if shutdown {
		p.Status = StatusPaused
		reason = checkpoint.ReasonPaused
		evt = m.eventLocked(ps, events.WorkflowPaused, p.CurrentStageIndex)
		evt.Message = "daemon shutting down"
	} else {
		p.Status = StatusIdle
	}
	status := p.Status
	m.queueLocked(ps, evt)
	cp, ok := m.checkpointLocked(ps, reason)
	m.mu.Unlock()

	if ok {
		m.persist(ctx, ps, cp)
	}
	ps.logger.Info("project runner stopped",
		logging.String(logging.FieldEventType, string(evt.Type)),
		logging.String("status", string(status)))
	m.release(ps, h)
}

// release detaches a finished runner and delivers its last events.
func (m *Manager) release(ps *projectState, h *runHandle) {
	m.mu.Lock()
	if ps.run == h {
		ps.run = nil
	}
	m.mu.Unlock()
	h.cancel(nil)
	m.flush(ps)
}

func errClosed(op string) error {
	return services.Wrap(services.ErrValidation, "", op, "workflow manager is shut down", nil)
}
