package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"dramaforge/internal/checkpoint"
	"dramaforge/internal/logging"
	"dramaforge/internal/usage"
)

// progressCheckpointGap throttles checkpoints taken from progress reports.
// Stage boundaries are always checkpointed.
const progressCheckpointGap = 5 * time.Second

// snapshotLocked returns a deep copy of the project with usage folded in.
func (m *Manager) snapshotLocked(ps *projectState) Project {
	p := ps.project.clone()
	p.Usage = ps.ledger.Records()
	p.Totals = usage.Sum(p.Usage)
	return p
}

// checkpointLocked builds the checkpoint for the current state. Cancelled
// checkpoints point at the last finished stage, since that is where a resume
// picks up.
func (m *Manager) checkpointLocked(ps *projectState, reason checkpoint.Reason) (checkpoint.Checkpoint, bool) {
	if m.checkpoints == nil {
		return checkpoint.Checkpoint{}, false
	}
	p := m.snapshotLocked(ps)
	data, err := json.Marshal(p)
	if err != nil {
		logging.WarnWithContext(ps.logger, "checkpoint encode failed", "checkpoint_encode_failed",
			logging.String(logging.FieldErrorHint, "a stage produced output that cannot be serialized"),
			logging.String("reason", string(reason)),
			logging.Error(err))
		return checkpoint.Checkpoint{}, false
	}

	index := min(p.CurrentStageIndex, len(p.Stages)-1)
	if reason == checkpoint.ReasonCancelled {
		index = p.lastDone()
	}
	cp := checkpoint.Checkpoint{
		ProjectID:  p.ID,
		StageIndex: index,
		Reason:     reason,
		Data:       data,
		Timestamp:  m.timestamp(),
	}
	if index >= 0 {
		cp.StageID = string(p.Stages[index].ID)
		cp.Progress = p.Stages[index].Progress
	}
	return cp, true
}

// persist writes cp. Checkpointing is best effort: failures are logged and
// the run continues. Saves outlive cancellation so boundary checkpoints
// written while unwinding are not lost.
func (m *Manager) persist(ctx context.Context, ps *projectState, cp checkpoint.Checkpoint) {
	saved, err := m.checkpoints.Save(context.WithoutCancel(ctx), cp)
	if err != nil {
		logging.WarnWithContext(ps.logger, "checkpoint save failed", "checkpoint_save_failed",
			logging.String(logging.FieldErrorHint, "check checkpoint backend permissions and free space"),
			logging.String(logging.FieldImpact, "a restart may resume from an older checkpoint"),
			logging.String("reason", string(cp.Reason)),
			logging.Error(err))
		return
	}
	ps.logger.Debug("checkpoint saved",
		logging.String("checkpoint_id", saved.ID),
		logging.String("reason", string(saved.Reason)),
		logging.String(logging.FieldStage, saved.StageID))
}

// saveCheckpoint snapshots and persists the project.
func (m *Manager) saveCheckpoint(ctx context.Context, ps *projectState, reason checkpoint.Reason) {
	m.mu.Lock()
	cp, ok := m.checkpointLocked(ps, reason)
	m.mu.Unlock()
	if ok {
		m.persist(ctx, ps, cp)
	}
}

// checkpointLoop saves an interval checkpoint while a stage runs, until ctx
// ends.
func (m *Manager) checkpointLoop(ctx context.Context, wg *sync.WaitGroup, ps *projectState, interval time.Duration) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.saveCheckpoint(ctx, ps, checkpoint.ReasonInterval)
		}
	}
}

// startCheckpointLoop runs checkpointLoop for the duration of one stage and
// returns the function that stops it.
func (m *Manager) startCheckpointLoop(ctx context.Context, ps *projectState) func() {
	interval := m.cfg.CheckpointInterval()
	if m.checkpoints == nil || interval <= 0 {
		return func() {}
	}
	loopCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go m.checkpointLoop(loopCtx, &wg, ps, interval)
	return func() {
		cancel()
		wg.Wait()
	}
}
