package pipeline

import (
	"context"
	"fmt"
	"strings"
)

// StageID names a pipeline stage.
type StageID string

// Executor produces a stage output. The output must be JSON-serializable.
type Executor func(ctx context.Context, sc *StageContext) (any, error)

// Definition describes one stage.
type Definition struct {
	ID          StageID
	Name        string
	Description string
	Execute     Executor
	// Optional stages are recorded as skipped on failure instead of failing the run.
	Optional bool
}

// Registry is the immutable ordered stage list.
type Registry struct {
	defs  []Definition
	index map[StageID]int
}

// NewRegistry validates defs and freezes their order.
func NewRegistry(defs ...Definition) (*Registry, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("registry: at least one stage is required")
	}
	r := &Registry{defs: make([]Definition, len(defs)), index: make(map[StageID]int, len(defs))}
	for i, def := range defs {
		id := StageID(strings.TrimSpace(string(def.ID)))
		if id == "" {
			return nil, fmt.Errorf("registry: stage %d has no id", i)
		}
		if def.Execute == nil {
			return nil, fmt.Errorf("registry: stage %s has no executor", id)
		}
		if _, dup := r.index[id]; dup {
			return nil, fmt.Errorf("registry: duplicate stage %s", id)
		}
		def.ID = id
		if def.Name == "" {
			def.Name = string(id)
		}
		r.defs[i] = def
		r.index[id] = i
	}
	return r, nil
}

// Len is the number of stages.
func (r *Registry) Len() int { return len(r.defs) }

// At returns the definition at position i.
func (r *Registry) At(i int) Definition { return r.defs[i] }

// Stages returns a copy of every definition in order.
func (r *Registry) Stages() []Definition {
	return append([]Definition(nil), r.defs...)
}

// IDs returns the stage ids in order.
func (r *Registry) IDs() []StageID {
	ids := make([]StageID, len(r.defs))
	for i, def := range r.defs {
		ids[i] = def.ID
	}
	return ids
}

// Index returns the position of id.
func (r *Registry) Index(id StageID) (int, bool) {
	i, ok := r.index[id]
	return i, ok
}

// WithOptional returns a copy of r where the named stages are optional and
// every other stage is required. Unknown names are an error.
func (r *Registry) WithOptional(ids ...string) (*Registry, error) {
	clone := &Registry{defs: r.Stages(), index: r.index}
	optional := make(map[StageID]bool, len(ids))
	for _, raw := range ids {
		id := StageID(strings.TrimSpace(raw))
		if _, ok := r.index[id]; !ok {
			return nil, fmt.Errorf("registry: unknown optional stage %q", raw)
		}
		optional[id] = true
	}
	for i := range clone.defs {
		clone.defs[i].Optional = optional[clone.defs[i].ID]
	}
	return clone, nil
}
