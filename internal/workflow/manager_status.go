package workflow

import (
	"context"
	"sort"

	"dramaforge/internal/contentcache"
	"dramaforge/internal/logging"
)

// State returns a snapshot of a project, falling back to its latest
// checkpoint when it is not in memory.
func (m *Manager) State(ctx context.Context, id string) (Project, error) {
	m.mu.Lock()
	if ps, ok := m.projects[id]; ok {
		snapshot := m.snapshotLocked(ps)
		m.mu.Unlock()
		return snapshot, nil
	}
	m.mu.Unlock()

	p, err := m.loadProject(ctx, id)
	if err != nil {
		return Project{}, err
	}
	return *p, nil
}

// List returns every project known in memory or in the checkpoint store,
// newest first.
func (m *Manager) List(ctx context.Context) ([]Project, error) {
	m.mu.Lock()
	out := make([]Project, 0, len(m.projects))
	seen := make(map[string]bool, len(m.projects))
	for id, ps := range m.projects {
		out = append(out, m.snapshotLocked(ps))
		seen[id] = true
	}
	m.mu.Unlock()

	if m.checkpoints != nil {
		ids, err := m.checkpoints.Projects(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			p, err := m.loadProject(ctx, id)
			if err != nil {
				logging.WarnWithContext(m.logger, "skipping unreadable project", "project_load_failed",
					logging.String(logging.FieldProjectID, id),
					logging.String(logging.FieldErrorHint, "inspect or delete the project's checkpoints"),
					logging.String(logging.FieldImpact, "the project is missing from listings"),
					logging.Error(err))
				continue
			}
			out = append(out, *p)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// StatusSummary represents lightweight manager diagnostics.
type StatusSummary struct {
	Accepting   bool                `json:"accepting"`
	Active      []string            `json:"active"`
	Projects    map[Status]int      `json:"projects"`
	LastError   string              `json:"last_error,omitempty"`
	Checkpoints bool                `json:"checkpoints"`
	Cache       *contentcache.Stats `json:"cache,omitempty"`
}

// Status returns the manager's in-memory view.
func (m *Manager) Status() StatusSummary {
	m.mu.Lock()
	summary := StatusSummary{
		Accepting:   !m.closed,
		Active:      []string{},
		Projects:    make(map[Status]int),
		Checkpoints: m.checkpoints != nil,
	}
	for id, ps := range m.projects {
		summary.Projects[ps.project.Status]++
		if ps.run != nil {
			summary.Active = append(summary.Active, id)
		}
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	m.mu.Unlock()

	sort.Strings(summary.Active)
	if m.cache != nil {
		stats := m.cache.Stats()
		summary.Cache = &stats
	}
	return summary
}
