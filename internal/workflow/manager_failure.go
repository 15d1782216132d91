package workflow

import (
	"context"
	"fmt"
	"strings"

	"dramaforge/internal/checkpoint"
	"dramaforge/internal/events"
	"dramaforge/internal/logging"
	"dramaforge/internal/services"
)

// failProject records a required stage failure, fails the project, and
// stops the runner. There is no cross-stage recovery; Retry restarts the
// failed stage.
func (m *Manager) failProject(ctx context.Context, ps *projectState, h *runHandle, idx int, stageErr error) {
	details := services.Details(stageErr)

	m.mu.Lock()
	p := ps.project
	st := p.Stages[idx]
	message := classifyStageFailure(st.Name, stageErr)
	p.Status = StatusFailed
	p.Error = message
	p.ErrorClass = details.Class
	p.UpdatedAt = m.timestamp()

	stageEvt := m.eventLocked(ps, events.StageFail, idx)
	stageEvt.Error = message
	stageEvt.Class = details.Class
	stageEvt.Attempt = st.Attempts
	m.queueLocked(ps, stageEvt)

	workflowEvt := m.eventLocked(ps, events.WorkflowFail, idx)
	workflowEvt.Error = message
	workflowEvt.Class = details.Class
	workflowEvt.Message = fmt.Sprintf("stage %s failed", st.ID)
	m.queueLocked(ps, workflowEvt)
	cp, ok := m.checkpointLocked(ps, checkpoint.ReasonStageFailed)
	m.mu.Unlock()

	logging.ErrorWithContext(logging.WithContext(ctx, ps.logger), "stage failed", "stage_failure",
		logging.String(logging.FieldStage, string(st.ID)),
		logging.Alert("stage_failure"),
		logging.String("error_kind", details.Kind),
		logging.String("error_class", string(details.Class)),
		logging.Int(logging.FieldAttempt, st.Attempts),
		logging.String("error_message", message),
		logging.String(logging.FieldErrorHint, failureHint(details.Class)),
		logging.Error(stageErr))

	if ok {
		m.persist(ctx, ps, cp)
	}
	m.setLastError(stageErr)
	m.release(ps, h)
}

func classifyStageFailure(stageName string, stageErr error) string {
	if stageErr == nil {
		return stageFailureMessage(stageName, "failed without error detail")
	}
	message := strings.TrimSpace(services.Details(stageErr).Message)
	if message == "" {
		message = strings.TrimSpace(stageErr.Error())
	}
	if message == "" {
		message = stageFailureMessage(stageName, "failed")
	}
	return message
}

func stageFailureMessage(stageName, defaultMsg string) string {
	if stageName != "" {
		return fmt.Sprintf("%s %s", stageName, defaultMsg)
	}
	return fmt.Sprintf("workflow %s", defaultMsg)
}

func failureHint(class services.Class) string {
	if class == services.ClassTransient {
		return "the generator kept failing; check provider availability and retry the project"
	}
	return "fix the input or configuration, then retry the project"
}
