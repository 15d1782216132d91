package events

import (
	"time"

	"dramaforge/internal/services"
)

// Type identifies an event.
type Type string

const (
	StageStart    Type = "stage_start"
	StageProgress Type = "stage_progress"
	StageRetry    Type = "stage_retry"
	StageComplete Type = "stage_complete"
	StageFail     Type = "stage_fail"
	StageSkipped  Type = "stage_skipped"

	WorkflowStart     Type = "workflow_start"
	WorkflowPaused    Type = "workflow_paused"
	WorkflowResumed   Type = "workflow_resumed"
	WorkflowCancelled Type = "workflow_cancelled"
	WorkflowComplete  Type = "workflow_complete"
	WorkflowFail      Type = "workflow_fail"
)

// Event is one notification. Sequence is assigned by a Hub and is zero on the
// bus itself.
type Event struct {
	Sequence   uint64         `json:"seq,omitempty"`
	Type       Type           `json:"type"`
	ProjectID  string         `json:"project_id"`
	StageID    string         `json:"stage_id,omitempty"`
	StageIndex int            `json:"stage_index"`
	Progress   float64        `json:"progress"`
	Overall    float64        `json:"overall"`
	Attempt    int            `json:"attempt,omitempty"`
	Delay      time.Duration  `json:"delay,omitempty"`
	Message    string         `json:"message,omitempty"`
	Class      services.Class `json:"class,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  time.Time      `json:"ts"`
}

// IsTerminal reports whether the event ends a run.
func (e Event) IsTerminal() bool {
	switch e.Type {
	case WorkflowComplete, WorkflowFail, WorkflowCancelled:
		return true
	default:
		return false
	}
}
