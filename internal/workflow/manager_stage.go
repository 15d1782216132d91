package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dramaforge/internal/checkpoint"
	"dramaforge/internal/events"
	"dramaforge/internal/logging"
	"dramaforge/internal/pipeline"
	"dramaforge/internal/retry"
	"dramaforge/internal/services"
)

// runStage executes one stage under the stage retry policy and timeout. On
// success the output is merged into the project; on failure the stage is
// marked failed and the error returned. A cancelled run returns the context
// error with the stage left running for the runner to unwind.
func (m *Manager) runStage(ctx context.Context, ps *projectState, idx int, def pipeline.Definition) error {
	stageCtx := services.WithStage(ctx, string(def.ID))
	stageCtx, span := m.tracer.Start(stageCtx, "workflow.stage", trace.WithAttributes(
		attribute.String("stage.id", string(def.ID)),
		attribute.Int("stage.index", idx),
	))
	defer span.End()

	timeout := m.cfg.StageTimeout()
	if timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(stageCtx, timeout)
		defer cancel()
	}

	m.mu.Lock()
	started := m.timestamp()
	p := ps.project
	st := &p.Stages[idx]
	st.Status = StageRunning
	st.Progress = 0
	st.Attempts = 0
	st.Error, st.ErrorClass = "", ""
	st.StartedAt = &started
	st.EndedAt = nil
	p.CurrentStageIndex = idx
	p.UpdatedAt = started
	m.queueLocked(ps, m.eventLocked(ps, events.StageStart, idx))
	params := pipeline.StageParams{
		ProjectID: p.ID,
		Stage:     def.ID,
		Input:     p.Input,
		Settings:  p.Settings,
		Toolkit:   m.toolkitLocked(ps),
		Data:      p.AccumulatedData,
		Progress:  func(percent float64) { m.onProgress(stageCtx, ps, idx, percent) },
		OnRetry: func(attempt int, delay time.Duration, err error) {
			m.onRetry(ps, idx, attempt, delay, err)
		},
	}
	// NewStageContext copies Data, so it is built under the lock.
	first := pipeline.NewStageContext(params)
	logger := logging.WithContext(stageCtx, ps.logger)
	m.mu.Unlock()

	m.flush(ps)
	m.saveCheckpoint(ctx, ps, checkpoint.ReasonStageStart)
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("stage_index", idx))

	stopLoop := m.startCheckpointLoop(stageCtx, ps)
	policy := m.stagePolicy().WithHook(func(attempt int, delay time.Duration, err error) {
		m.onRetry(ps, idx, attempt, delay, err)
	})
	output, err := retry.Do(stageCtx, policy, func(ctx context.Context, attempt int) (json.RawMessage, error) {
		m.mu.Lock()
		ps.project.Stages[idx].Attempts = attempt
		sc := first
		if attempt > 1 {
			sc = pipeline.NewStageContext(params)
		}
		m.mu.Unlock()

		out, err := def.Execute(ctx, sc)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(out)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, string(def.ID), "encode output", "stage output is not serializable", err)
		}
		return raw, nil
	})
	stopLoop()

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) && stageCtx.Err() != nil {
			err = services.Wrap(services.ErrTimeout, string(def.ID), "execute",
				fmt.Sprintf("stage exceeded its %s timeout", timeout), err)
		}
		details := services.Details(err)
		m.mu.Lock()
		ended := m.timestamp()
		st := &ps.project.Stages[idx]
		st.Status = StageFailed
		st.Error = details.Message
		st.ErrorClass = details.Class
		st.EndedAt = &ended
		m.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, details.Message)
		return err
	}

	m.mu.Lock()
	ended := m.timestamp()
	st = &ps.project.Stages[idx]
	st.Status = StageCompleted
	st.Progress = 100
	st.EndedAt = &ended
	ps.project.AccumulatedData[def.ID] = output
	ps.project.CurrentStageIndex = idx + 1
	ps.project.UpdatedAt = ended
	attempts := st.Attempts
	m.queueLocked(ps, m.eventLocked(ps, events.StageComplete, idx))
	m.mu.Unlock()

	m.flush(ps)
	m.saveCheckpoint(ctx, ps, checkpoint.ReasonStageComplete)
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int(logging.FieldAttempt, attempts),
		logging.Duration("stage_duration", ended.Sub(started)))
	return nil
}

// onProgress records a monotonic progress report and, at most every
// progressCheckpointGap, checkpoints it.
func (m *Manager) onProgress(ctx context.Context, ps *projectState, idx int, percent float64) {
	m.mu.Lock()
	st := &ps.project.Stages[idx]
	if st.Status != StageRunning || percent <= st.Progress {
		m.mu.Unlock()
		return
	}
	now := m.timestamp()
	st.Progress = percent
	ps.project.UpdatedAt = now
	m.queueLocked(ps, m.eventLocked(ps, events.StageProgress, idx))
	var (
		cp   checkpoint.Checkpoint
		save bool
	)
	if now.Sub(ps.lastProgressSave) >= progressCheckpointGap {
		cp, save = m.checkpointLocked(ps, checkpoint.ReasonProgress)
		if save {
			ps.lastProgressSave = now
		}
	}
	m.mu.Unlock()

	m.flush(ps)
	if save {
		m.persist(ctx, ps, cp)
	}
}

// onRetry publishes a scheduled retry, either of a generator call or of the
// whole stage.
func (m *Manager) onRetry(ps *projectState, idx int, attempt int, delay time.Duration, err error) {
	details := services.Details(err)
	m.mu.Lock()
	evt := m.eventLocked(ps, events.StageRetry, idx)
	evt.Attempt = attempt
	evt.Delay = delay
	evt.Error = details.Message
	evt.Class = details.Class
	m.queueLocked(ps, evt)
	m.mu.Unlock()
	m.flush(ps)
}
