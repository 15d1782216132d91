package api

import (
	"time"

	"dramaforge/internal/checkpoint"
	"dramaforge/internal/workflow"
)

// FromProject converts a project snapshot into its list view.
func FromProject(p workflow.Project) ProjectSummary {
	summary := ProjectSummary{
		ID:         p.ID,
		Title:      p.Input.Title,
		Kind:       string(p.Input.Kind),
		Status:     string(p.Status),
		StageIndex: p.CurrentStageIndex,
		Stages:     len(p.Stages),
		Overall:    p.Overall(),
		Calls:      p.Totals.Calls,
		Cost:       p.Totals.Cost,
		Error:      p.Error,
		CreatedAt:  formatTime(p.CreatedAt),
		UpdatedAt:  formatTime(p.UpdatedAt),
	}
	if p.CurrentStageIndex >= 0 && p.CurrentStageIndex < len(p.Stages) {
		summary.Stage = string(p.Stages[p.CurrentStageIndex].ID)
	}
	return summary
}

// FromProjects converts a slice of projects, preserving order.
func FromProjects(projects []workflow.Project) []ProjectSummary {
	out := make([]ProjectSummary, 0, len(projects))
	for _, p := range projects {
		out = append(out, FromProject(p))
	}
	return out
}

// FromCheckpoint drops the payload of cp.
func FromCheckpoint(cp checkpoint.Checkpoint) CheckpointInfo {
	return CheckpointInfo{
		ID:            cp.ID,
		StageID:       cp.StageID,
		StageIndex:    cp.StageIndex,
		Progress:      cp.Progress,
		Reason:        string(cp.Reason),
		Timestamp:     formatTime(cp.Timestamp),
		SchemaVersion: cp.SchemaVersion,
		Bytes:         len(cp.Data),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
