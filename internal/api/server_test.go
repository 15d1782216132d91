package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dramaforge/internal/api"
	"dramaforge/internal/checkpoint"
	"dramaforge/internal/config"
	"dramaforge/internal/contentcache"
	"dramaforge/internal/events"
	"dramaforge/internal/logging"
	"dramaforge/internal/pipeline"
	"dramaforge/internal/services"
	"dramaforge/internal/testsupport"
	"dramaforge/internal/workflow"
)

var prompt = pipeline.Input{Kind: pipeline.InputPrompt, Text: "Two sisters inherit a failing bakery."}

type fixture struct {
	mgr    *workflow.Manager
	hub    *events.Hub
	client *api.Client
	url    string
}

func passing(id string) pipeline.Definition {
	return pipeline.Definition{
		ID:   pipeline.StageID(id),
		Name: id,
		Execute: func(context.Context, *pipeline.StageContext) (any, error) {
			return map[string]string{"stage": id}, nil
		},
	}
}

func newFixture(t *testing.T, cfg *config.Config, cache *contentcache.Cache) fixture {
	t.Helper()
	reg, err := pipeline.NewRegistry(passing("parse"), passing("script"), passing("export"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	hub := events.NewHub(256)
	bus := events.NewBus(nil)
	bus.Subscribe(hub.Listener())
	mgr, err := workflow.NewManager(cfg, workflow.Options{
		Registry:    reg,
		Checkpoints: checkpoint.NewStore(checkpoint.NewMemory(), checkpoint.Options{}),
		Cache:       cache,
		Bus:         bus,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	srv, err := api.NewServer(api.ServerOptions{
		Workflow: mgr,
		Events:   hub,
		Token:    cfg.Paths.APIToken,
		Metrics:  http.NotFoundHandler(),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return fixture{mgr: mgr, hub: hub, client: api.NewClient(ts.URL, cfg.Paths.APIToken), url: ts.URL}
}

func waitForStatus(t *testing.T, c *api.Client, id string, want workflow.Status) workflow.Project {
	t.Helper()
	var last workflow.Project
	testsupport.Eventually(t, 5*time.Second, func() bool {
		resp, err := c.Project(context.Background(), id)
		if err != nil {
			return false
		}
		last = resp.Project
		return last.Status == want
	}, "project %s never reached %s", id, want)
	return last
}

func TestProjectLifecycleOverHTTP(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fx := newFixture(t, cfg, nil)
	ctx := context.Background()

	created, err := fx.client.CreateProject(ctx, api.CreateProjectRequest{ID: "bakery", Input: prompt})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if created.Project.ID != "bakery" || len(created.Project.Stages) != 3 {
		t.Fatalf("unexpected project %+v", created.Project)
	}

	done := waitForStatus(t, fx.client, "bakery", workflow.StatusCompleted)
	if len(done.AccumulatedData) != 3 {
		t.Fatalf("accumulated outputs = %d, want 3", len(done.AccumulatedData))
	}

	list, err := fx.client.Projects(ctx, "completed")
	if err != nil {
		t.Fatalf("Projects: %v", err)
	}
	if len(list.Projects) != 1 || list.Projects[0].ID != "bakery" || list.Projects[0].Overall != 100 {
		t.Fatalf("unexpected list %+v", list.Projects)
	}
	if none, _ := fx.client.Projects(ctx, "failed"); len(none.Projects) != 0 {
		t.Fatalf("status filter leaked %+v", none.Projects)
	}

	cps, err := fx.client.Checkpoints(ctx, "bakery")
	if err != nil {
		t.Fatalf("Checkpoints: %v", err)
	}
	if !cps.Enabled || len(cps.Checkpoints) == 0 {
		t.Fatalf("expected checkpoints, got %+v", cps)
	}
	if last := cps.Checkpoints[len(cps.Checkpoints)-1]; last.Reason != string(checkpoint.ReasonCompleted) || last.Bytes == 0 {
		t.Fatalf("latest checkpoint = %+v", last)
	}

	pruned, err := fx.client.PruneCheckpoints(ctx, "bakery", 1)
	if err != nil {
		t.Fatalf("PruneCheckpoints: %v", err)
	}
	if pruned.Removed != len(cps.Checkpoints)-1 {
		t.Fatalf("removed %d, want %d", pruned.Removed, len(cps.Checkpoints)-1)
	}
}

func TestErrorsCarryServiceMarkers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fx := newFixture(t, cfg, nil)
	ctx := context.Background()

	_, err := fx.client.Project(ctx, "missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("missing project err = %v, want not found", err)
	}
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected a 404 api error, got %v", err)
	}

	_, err = fx.client.CreateProject(ctx, api.CreateProjectRequest{Input: pipeline.Input{Kind: pipeline.InputNovel}})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("empty input err = %v, want validation", err)
	}

	if _, err := fx.client.CreateProject(ctx, api.CreateProjectRequest{ID: "done", Input: prompt}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	waitForStatus(t, fx.client, "done", workflow.StatusCompleted)
	if _, err := fx.client.Pause(ctx, "done"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("pause completed project err = %v, want validation", err)
	}
	if _, err := fx.client.PruneCheckpoints(ctx, "done", 0); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("prune keep=0 err = %v, want validation", err)
	}
}

func TestBearerTokenIsEnforced(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken("s3cret"))
	fx := newFixture(t, cfg, nil)

	resp, err := http.Get(fx.url + "/api/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	wrong := api.NewClient(fx.url, "nope")
	if _, err := wrong.Status(context.Background()); err == nil {
		t.Fatal("wrong token accepted")
	}

	status, err := fx.client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || !status.Workflow.Accepting || len(status.Stages) != 3 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestEventsLongPollDeliversTerminalEvent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fx := newFixture(t, cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := fx.client.CreateProject(ctx, api.CreateProjectRequest{ID: "watched", Input: prompt}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	var (
		since uint64
		seen  []events.Type
	)
	for {
		page, err := fx.client.Events(ctx, since, "watched", true)
		if err != nil {
			t.Fatalf("Events: %v", err)
		}
		for _, evt := range page.Events {
			if evt.Sequence <= since {
				t.Fatalf("sequence %d not after cursor %d", evt.Sequence, since)
			}
			seen = append(seen, evt.Type)
		}
		since = page.Next
		if len(seen) > 0 && seen[len(seen)-1] == events.WorkflowComplete {
			break
		}
	}
	if seen[0] != events.WorkflowStart {
		t.Fatalf("first event = %s, want workflow start", seen[0])
	}
}

func TestCacheEndpoints(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cache := contentcache.New(contentcache.Options{TTL: time.Hour})
	cache.Set(context.Background(), "k", []byte(`"v"`), 0)
	fx := newFixture(t, cfg, cache)
	ctx := context.Background()

	stats, err := fx.client.CacheStats(ctx)
	if err != nil {
		t.Fatalf("CacheStats: %v", err)
	}
	if !stats.Enabled || stats.Stats == nil || stats.Stats.Entries != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	cleared, err := fx.client.ClearCache(ctx)
	if err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	if cleared.Removed != 1 {
		t.Fatalf("removed = %d, want 1", cleared.Removed)
	}

	disabled := newFixture(t, testsupport.NewConfig(t, testsupport.WithPipeline(func(p *config.Pipeline) {
		p.EnableCache = false
	})), cache)
	stats, err = disabled.client.CacheStats(ctx)
	if err != nil {
		t.Fatalf("CacheStats: %v", err)
	}
	if stats.Enabled {
		t.Fatal("cache reported enabled while disabled in config")
	}
}

func TestLogsFollowWaitsForMatchingProject(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fx := newFixture(t, cfg, nil)
	logs := logging.NewStreamHub(32)
	srv, err := api.NewServer(api.ServerOptions{Workflow: fx.mgr, Logs: logs, Metrics: http.NotFoundHandler()})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv)
	defer ts.Close()
	client := api.NewClient(ts.URL, "")

	logs.Publish(logging.LogEvent{Message: "noise", ProjectID: "a"})
	page, err := client.Logs(context.Background(), 0, "b", false)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(page.Events) != 0 || page.Next != 1 {
		t.Fatalf("unfiltered page: %+v", page)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		logs.Publish(logging.LogEvent{Message: "more noise", ProjectID: "a"})
		logs.Publish(logging.LogEvent{Message: "stage started", ProjectID: "b"})
	}()
	page, err = client.Logs(context.Background(), page.Next, "b", true)
	if err != nil {
		t.Fatalf("Logs follow: %v", err)
	}
	if len(page.Events) != 1 || page.Events[0].Message != "stage started" || page.Next != 3 {
		t.Fatalf("follow page: %+v", page)
	}
}
