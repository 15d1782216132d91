package workflow

import (
	"context"
	"fmt"

	"dramaforge/internal/checkpoint"
	"dramaforge/internal/events"
	"dramaforge/internal/pipeline"
	"dramaforge/internal/services"
)

// Pause stops a running project from starting its next stage or fan-out
// item. Work already in flight finishes.
func (m *Manager) Pause(ctx context.Context, id string) (Project, error) {
	m.mu.Lock()
	ps, ok := m.projects[id]
	if !ok {
		m.mu.Unlock()
		return Project{}, notFound("pause", id)
	}
	if ps.run == nil || ps.project.Status != StatusRunning {
		status := ps.project.Status
		m.mu.Unlock()
		return Project{}, services.Wrap(services.ErrValidation, "", "pause",
			fmt.Sprintf("project %s is %s, not running", id, status), nil)
	}
	ps.run.gate.Pause()
	ps.project.Status = StatusPaused
	ps.project.UpdatedAt = m.timestamp()
	m.queueLocked(ps, m.eventLocked(ps, events.WorkflowPaused, ps.project.CurrentStageIndex))
	snapshot := m.snapshotLocked(ps)
	m.mu.Unlock()

	m.flush(ps)
	m.saveCheckpoint(ctx, ps, checkpoint.ReasonPaused)
	return snapshot, nil
}

// Cancel stops a running or paused project. The project becomes idle at
// once; its runner discards the in-flight stage and leaves the last finished
// stage as the resume point.
func (m *Manager) Cancel(ctx context.Context, id string) (Project, error) {
	m.mu.Lock()
	ps, ok := m.projects[id]
	if !ok {
		m.mu.Unlock()
		return Project{}, notFound("cancel", id)
	}
	if ps.run == nil || !ps.project.Active() {
		status := ps.project.Status
		m.mu.Unlock()
		return Project{}, services.Wrap(services.ErrValidation, "", "cancel",
			fmt.Sprintf("project %s is %s, not active", id, status), nil)
	}
	ps.project.Status = StatusIdle
	ps.project.UpdatedAt = m.timestamp()
	ps.run.cancel(errCancelled)
	snapshot := m.snapshotLocked(ps)
	m.mu.Unlock()
	return snapshot, nil
}

// Skip marks a pending stage to be skipped when the runner reaches it.
func (m *Manager) Skip(ctx context.Context, id string, stage pipeline.StageID) (Project, error) {
	ps, err := m.ensureLoaded(ctx, id)
	if err != nil {
		return Project{}, err
	}
	idx, ok := m.registry.Index(stage)
	if !ok {
		return Project{}, services.Wrap(services.ErrValidation, "", "skip",
			fmt.Sprintf("unknown stage %q", stage), nil)
	}
	m.mu.Lock()
	st := &ps.project.Stages[idx]
	if st.Status != StagePending {
		status := st.Status
		m.mu.Unlock()
		return Project{}, services.Wrap(services.ErrValidation, "", "skip",
			fmt.Sprintf("stage %s is %s; only pending stages can be skipped", stage, status), nil)
	}
	st.SkipRequested = true
	ps.project.UpdatedAt = m.timestamp()
	snapshot := m.snapshotLocked(ps)
	cp, persist := m.checkpointLocked(ps, checkpoint.ReasonSkipRequested)
	m.mu.Unlock()

	// The request must survive a restart even when no runner is live to
	// reach the stage.
	if persist {
		m.persist(ctx, ps, cp)
	}
	return snapshot, nil
}

// Wait blocks until the project's runner exits or ctx ends, then returns
// the project state. A paused runner keeps Wait blocked.
func (m *Manager) Wait(ctx context.Context, id string) (Project, error) {
	m.mu.Lock()
	ps, ok := m.projects[id]
	var done chan struct{}
	if ok && ps.run != nil {
		done = ps.run.done
	}
	m.mu.Unlock()
	if !ok {
		return Project{}, notFound("wait", id)
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return Project{}, ctx.Err()
		}
	}
	return m.State(ctx, id)
}

// Shutdown stops every runner, leaving their projects paused at a
// checkpoint, and waits for them to exit or ctx to end. The manager accepts
// no new work afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, ps := range m.projects {
		if ps.run != nil {
			ps.run.cancel(errShutdown)
		}
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func notFound(op, id string) error {
	return services.Wrap(services.ErrNotFound, "", op, fmt.Sprintf("project %s not found", id), nil)
}
