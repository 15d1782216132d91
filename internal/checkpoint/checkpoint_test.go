package checkpoint_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"dramaforge/internal/checkpoint"
	"dramaforge/internal/services"
	"dramaforge/internal/store"
)

var _ checkpoint.Backend = (*store.Store)(nil)

func backends(t *testing.T) map[string]checkpoint.Backend {
	t.Helper()
	fileBackend, err := checkpoint.NewFile(filepath.Join(t.TempDir(), "checkpoints"))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	sqlite, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "cp.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]checkpoint.Backend{
		"memory": checkpoint.NewMemory(),
		"file":   fileBackend,
		"sqlite": sqlite,
	}
}

func steppingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

func TestSaveAndLoadLatestAcrossBackends(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := checkpoint.NewStore(backend, checkpoint.Options{Now: steppingClock()})

			first, err := s.Save(ctx, checkpoint.Checkpoint{ProjectID: "p1", StageID: "parse", Progress: 100, Data: json.RawMessage(`{"n":1}`)})
			if err != nil {
				t.Fatalf("Save first: %v", err)
			}
			if !strings.HasPrefix(first.ID, "p1/") || first.SchemaVersion != checkpoint.SchemaVersion {
				t.Fatalf("unexpected saved checkpoint %+v", first)
			}
			second, err := s.Save(ctx, checkpoint.Checkpoint{ProjectID: "p1", StageID: "script", StageIndex: 1, Progress: 50, Data: json.RawMessage(`{"n":2}`)})
			if err != nil {
				t.Fatalf("Save second: %v", err)
			}
			if _, err := s.Save(ctx, checkpoint.Checkpoint{ProjectID: "p10", StageID: "parse"}); err != nil {
				t.Fatalf("Save other project: %v", err)
			}

			latest, ok, err := s.LoadLatest(ctx, "p1")
			if err != nil || !ok {
				t.Fatalf("LoadLatest: ok=%v err=%v", ok, err)
			}
			if latest.ID != second.ID || string(latest.Data) != `{"n":2}` || latest.StageIndex != 1 {
				t.Fatalf("expected second checkpoint, got %+v", latest)
			}

			all, err := s.List(ctx, "p1")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(all) != 2 || all[0].ID != first.ID {
				t.Fatalf("expected 2 checkpoints oldest first, got %d", len(all))
			}

			projects, err := s.Projects(ctx)
			if err != nil || len(projects) != 2 || projects[0] != "p1" || projects[1] != "p10" {
				t.Fatalf("Projects: %v %v", projects, err)
			}
		})
	}
}

func TestFrozenClockKeepsSaveOrder(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	frozen := func() time.Time { return fixed }
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := checkpoint.NewStore(backend, checkpoint.Options{Now: frozen})
			for i := range 20 {
				if _, err := s.Save(ctx, checkpoint.Checkpoint{ProjectID: "p1", StageIndex: i}); err != nil {
					t.Fatalf("Save %d: %v", i, err)
				}
			}
			latest, _, err := s.LoadLatest(ctx, "p1")
			if err != nil || latest.StageIndex != 19 {
				t.Fatalf("latest = %d, %v; want 19", latest.StageIndex, err)
			}
			all, _ := s.List(ctx, "p1")
			for i := 1; i < len(all); i++ {
				if all[i].StageIndex != all[i-1].StageIndex+1 {
					t.Fatalf("history out of order at %d: %d after %d", i, all[i].StageIndex, all[i-1].StageIndex)
				}
			}

			// A fresh store over the same backend continues after the pointer.
			restarted := checkpoint.NewStore(backend, checkpoint.Options{Now: frozen})
			if _, err := restarted.Save(ctx, checkpoint.Checkpoint{ProjectID: "p1", StageIndex: 20}); err != nil {
				t.Fatalf("Save after restart: %v", err)
			}
			if latest, _, _ = restarted.LoadLatest(ctx, "p1"); latest.StageIndex != 20 {
				t.Fatalf("latest after restart = %d, want 20", latest.StageIndex)
			}
		})
	}
}

func TestLoadLatestMissingProject(t *testing.T) {
	s := checkpoint.NewStore(checkpoint.NewMemory(), checkpoint.Options{})
	if _, ok, err := s.LoadLatest(context.Background(), "nope"); ok || err != nil {
		t.Fatalf("expected absent, got ok=%v err=%v", ok, err)
	}
}

func TestSavePrunesButKeepsLatest(t *testing.T) {
	ctx := context.Background()
	s := checkpoint.NewStore(checkpoint.NewMemory(), checkpoint.Options{Keep: 3, Now: steppingClock()})
	var last checkpoint.Checkpoint
	for i := range 7 {
		cp, err := s.Save(ctx, checkpoint.Checkpoint{ProjectID: "p", Progress: float64(i)})
		if err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
		last = cp
	}
	all, _ := s.List(ctx, "p")
	if len(all) != 3 {
		t.Fatalf("expected 3 retained, got %d", len(all))
	}
	if all[2].ID != last.ID {
		t.Fatalf("expected newest retained")
	}
}

func TestDeleteRepointsLatest(t *testing.T) {
	ctx := context.Background()
	s := checkpoint.NewStore(checkpoint.NewMemory(), checkpoint.Options{Now: steppingClock()})
	first, _ := s.Save(ctx, checkpoint.Checkpoint{ProjectID: "p", StageID: "parse"})
	second, _ := s.Save(ctx, checkpoint.Checkpoint{ProjectID: "p", StageID: "script"})

	if err := s.Delete(ctx, second.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	latest, ok, err := s.LoadLatest(ctx, "p")
	if err != nil || !ok || latest.ID != first.ID {
		t.Fatalf("expected pointer to move to first, got %+v ok=%v err=%v", latest, ok, err)
	}

	if err := s.Delete(ctx, first.ID); err != nil {
		t.Fatalf("Delete first: %v", err)
	}
	if _, ok, _ := s.LoadLatest(ctx, "p"); ok {
		t.Fatal("expected no latest after deleting all")
	}
	projects, _ := s.Projects(ctx)
	if len(projects) != 0 {
		t.Fatalf("expected no projects, got %v", projects)
	}
}

func TestDeleteProject(t *testing.T) {
	ctx := context.Background()
	s := checkpoint.NewStore(checkpoint.NewMemory(), checkpoint.Options{Now: steppingClock()})
	for range 3 {
		_, _ = s.Save(ctx, checkpoint.Checkpoint{ProjectID: "p"})
	}
	n, err := s.DeleteProject(ctx, "p")
	if err != nil || n != 3 {
		t.Fatalf("DeleteProject: %d %v", n, err)
	}
}

func TestRejectsUnknownSchemaVersion(t *testing.T) {
	ctx := context.Background()
	s := checkpoint.NewStore(checkpoint.NewMemory(), checkpoint.Options{})
	if _, err := s.Save(ctx, checkpoint.Checkpoint{ProjectID: "p", SchemaVersion: "1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_, _, err := s.LoadLatest(ctx, "p")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRejectsPathLikeProjectIDs(t *testing.T) {
	s := checkpoint.NewStore(checkpoint.NewMemory(), checkpoint.Options{})
	for _, id := range []string{"", "a/b", "..", `a\b`} {
		if _, err := s.Save(context.Background(), checkpoint.Checkpoint{ProjectID: id}); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error for %q, got %v", id, err)
		}
	}
}

func TestConcurrentSavesNeverRegressLatest(t *testing.T) {
	ctx := context.Background()
	s := checkpoint.NewStore(checkpoint.NewMemory(), checkpoint.Options{Keep: -1, Now: steppingClock()})
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Save(ctx, checkpoint.Checkpoint{ProjectID: "p", Progress: float64(i)})
		}()
	}
	wg.Wait()
	all, _ := s.List(ctx, "p")
	latest, _, _ := s.LoadLatest(ctx, "p")
	if len(all) != 20 || latest.ID != all[len(all)-1].ID {
		t.Fatalf("expected latest to be newest of %d checkpoints", len(all))
	}
}

func TestOnOperationObservesSaves(t *testing.T) {
	var ops []string
	s := checkpoint.NewStore(checkpoint.NewMemory(), checkpoint.Options{
		OnOperation: func(op string, err error) { ops = append(ops, op) },
	})
	_, _ = s.Save(context.Background(), checkpoint.Checkpoint{ProjectID: "p"})
	_, _, _ = s.LoadLatest(context.Background(), "p")
	if len(ops) != 2 || ops[0] != "save" || ops[1] != "load" {
		t.Fatalf("unexpected ops %v", ops)
	}
}
