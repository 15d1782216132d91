package workflow

import (
	"encoding/json"
	"time"

	"dramaforge/internal/pipeline"
	"dramaforge/internal/services"
	"dramaforge/internal/usage"
)

// Status is the lifecycle state of a project.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StageStatus is the lifecycle state of one stage within a project.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// Done reports whether the stage no longer needs to run.
func (s StageStatus) Done() bool {
	return s == StageCompleted || s == StageSkipped
}

// StageState tracks one stage of a project.
type StageState struct {
	ID          pipeline.StageID `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Optional    bool             `json:"optional,omitempty"`
	Status      StageStatus      `json:"status"`
	Progress    float64          `json:"progress"`
	Attempts    int              `json:"attempts"`
	// SkipRequested marks a pending stage to be skipped when the runner reaches it.
	SkipRequested bool           `json:"skip_requested,omitempty"`
	Error         string         `json:"error,omitempty"`
	ErrorClass    services.Class `json:"error_class,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
}

// Project is the full state of one pipeline run. It is also the checkpoint
// payload, so everything needed to resume lives here.
type Project struct {
	ID                string                               `json:"id"`
	Input             pipeline.Input                       `json:"input"`
	Settings          pipeline.Settings                    `json:"settings"`
	Stages            []StageState                         `json:"stages"`
	CurrentStageIndex int                                  `json:"current_stage_index"`
	Status            Status                               `json:"status"`
	AccumulatedData   map[pipeline.StageID]json.RawMessage `json:"accumulated_data"`
	Usage             []usage.Record                       `json:"usage,omitempty"`
	Totals            usage.Totals                         `json:"totals"`
	Error             string                               `json:"error,omitempty"`
	ErrorClass        services.Class                       `json:"error_class,omitempty"`
	CreatedAt         time.Time                            `json:"created_at"`
	UpdatedAt         time.Time                            `json:"updated_at"`
	CompletedAt       *time.Time                           `json:"completed_at,omitempty"`
}

// Overall returns whole-project progress in [0, 100]. Every stage weighs the
// same; finished stages count in full and the current one by its progress.
func (p Project) Overall() float64 {
	if len(p.Stages) == 0 {
		return 0
	}
	var sum float64
	for _, st := range p.Stages {
		switch {
		case st.Status.Done():
			sum += 100
		case st.Status == StageRunning:
			sum += st.Progress
		}
	}
	return sum / float64(len(p.Stages))
}

// Stage returns the state of id.
func (p Project) Stage(id pipeline.StageID) (StageState, bool) {
	for _, st := range p.Stages {
		if st.ID == id {
			return st, true
		}
	}
	return StageState{}, false
}

// Active reports whether the project has a runner that has not finished.
func (p Project) Active() bool {
	return p.Status == StatusRunning || p.Status == StatusPaused
}

// lastDone returns the index of the last completed or skipped stage before
// the current one, or -1.
func (p *Project) lastDone() int {
	for i := min(p.CurrentStageIndex, len(p.Stages)) - 1; i >= 0; i-- {
		if p.Stages[i].Status.Done() {
			return i
		}
	}
	return -1
}

func (p *Project) clone() Project {
	out := *p
	out.Stages = make([]StageState, len(p.Stages))
	for i, st := range p.Stages {
		out.Stages[i] = st
		if st.StartedAt != nil {
			t := *st.StartedAt
			out.Stages[i].StartedAt = &t
		}
		if st.EndedAt != nil {
			t := *st.EndedAt
			out.Stages[i].EndedAt = &t
		}
	}
	out.AccumulatedData = make(map[pipeline.StageID]json.RawMessage, len(p.AccumulatedData))
	for id, raw := range p.AccumulatedData {
		out.AccumulatedData[id] = raw
	}
	out.Usage = append([]usage.Record(nil), p.Usage...)
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// newProject lays out a fresh project for the registry's stages.
func newProject(id string, input pipeline.Input, settings pipeline.Settings, reg *pipeline.Registry, now time.Time) *Project {
	p := &Project{
		ID:              id,
		Input:           input,
		Settings:        settings,
		Stages:          make([]StageState, reg.Len()),
		Status:          StatusIdle,
		AccumulatedData: make(map[pipeline.StageID]json.RawMessage),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i, def := range reg.Stages() {
		p.Stages[i] = StageState{
			ID:          def.ID,
			Name:        def.Name,
			Description: def.Description,
			Optional:    def.Optional,
			Status:      StagePending,
		}
	}
	return p
}

// restore normalizes a project decoded from a checkpoint so that it can run
// again: an interrupted stage goes back to pending and an interrupted run is
// reported as paused.
func (p *Project) restore(reg *pipeline.Registry) error {
	if len(p.Stages) != reg.Len() {
		return services.Wrap(services.ErrValidation, "", "restore",
			"checkpoint stage list does not match the pipeline", nil)
	}
	for i, def := range reg.Stages() {
		if p.Stages[i].ID != def.ID {
			return services.Wrap(services.ErrValidation, "", "restore",
				"checkpoint stage order does not match the pipeline", nil)
		}
		if p.Stages[i].Status == StageRunning {
			p.Stages[i].Status = StagePending
			p.Stages[i].Progress = 0
			p.Stages[i].StartedAt = nil
		}
	}
	if p.AccumulatedData == nil {
		p.AccumulatedData = make(map[pipeline.StageID]json.RawMessage)
	}
	if p.Status == StatusRunning {
		p.Status = StatusPaused
	}
	return nil
}
