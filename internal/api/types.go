package api

import (
	"dramaforge/internal/contentcache"
	"dramaforge/internal/events"
	"dramaforge/internal/logging"
	"dramaforge/internal/pipeline"
	"dramaforge/internal/preflight"
	"dramaforge/internal/workflow"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// CreateProjectRequest starts a project. Settings overlay the configured
// generation defaults; zero fields keep the default.
type CreateProjectRequest struct {
	ID       string            `json:"id,omitempty"`
	Input    pipeline.Input    `json:"input"`
	Settings pipeline.Settings `json:"settings"`
}

// ProjectSummary is the list view of a project.
type ProjectSummary struct {
	ID         string  `json:"id"`
	Title      string  `json:"title,omitempty"`
	Kind       string  `json:"kind"`
	Status     string  `json:"status"`
	Stage      string  `json:"stage,omitempty"`
	StageIndex int     `json:"stage_index"`
	Stages     int     `json:"stages"`
	Overall    float64 `json:"overall"`
	Calls      int     `json:"calls"`
	Cost       float64 `json:"cost_usd"`
	Error      string  `json:"error,omitempty"`
	CreatedAt  string  `json:"created_at,omitempty"`
	UpdatedAt  string  `json:"updated_at,omitempty"`
}

// ProjectResponse wraps a full project snapshot.
type ProjectResponse struct {
	Project workflow.Project `json:"project"`
}

// ProjectListResponse wraps a collection of project summaries.
type ProjectListResponse struct {
	Projects []ProjectSummary `json:"projects"`
}

// CheckpointInfo describes one checkpoint without its payload.
type CheckpointInfo struct {
	ID            string  `json:"id"`
	StageID       string  `json:"stage_id"`
	StageIndex    int     `json:"stage_index"`
	Progress      float64 `json:"progress"`
	Reason        string  `json:"reason,omitempty"`
	Timestamp     string  `json:"timestamp"`
	SchemaVersion string  `json:"schema_version"`
	Bytes         int     `json:"bytes"`
}

// CheckpointListResponse lists a project's checkpoints, oldest first.
type CheckpointListResponse struct {
	Enabled     bool             `json:"enabled"`
	Checkpoints []CheckpointInfo `json:"checkpoints"`
}

// PruneRequest bounds how many checkpoints survive a prune.
type PruneRequest struct {
	Keep int `json:"keep"`
}

// PruneResponse reports how many checkpoints a prune removed.
type PruneResponse struct {
	Removed int `json:"removed"`
}

// EventStreamResponse is one long-poll page of workflow events.
type EventStreamResponse struct {
	Events []events.Event `json:"events"`
	Next   uint64         `json:"next"`
}

// LogStreamResponse is one long-poll page of log lines.
type LogStreamResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}

// CacheStatsResponse reports content cache activity.
type CacheStatsResponse struct {
	Enabled bool                `json:"enabled"`
	Stats   *contentcache.Stats `json:"stats,omitempty"`
}

// CacheClearResponse reports how many cache entries were dropped.
type CacheClearResponse struct {
	Removed int64 `json:"removed"`
}

// StatusResponse aggregates daemon runtime information.
type StatusResponse struct {
	Running           bool                   `json:"running"`
	PID               int                    `json:"pid"`
	LockFilePath      string                 `json:"lock_file_path,omitempty"`
	DatabasePath      string                 `json:"database_path,omitempty"`
	CheckpointBackend string                 `json:"checkpoint_backend,omitempty"`
	Stages            []string               `json:"stages"`
	Workflow          workflow.StatusSummary `json:"workflow"`
	Checks            []preflight.Result     `json:"checks,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
