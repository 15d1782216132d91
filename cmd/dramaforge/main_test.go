package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dramaforge/internal/api"
	"dramaforge/internal/config"
	"dramaforge/internal/daemonrun"
	"dramaforge/internal/stages"
	"dramaforge/internal/testsupport"
	"dramaforge/internal/workflow"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	apiURL     string
	runtime    *daemonrun.Runtime
}

func writeTestConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	suite := testsupport.NewGenerators().Suite()
	rt, err := daemonrun.Build(context.Background(), cfg, nil, daemonrun.BuildOptions{Suite: &suite})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	srv, err := api.NewServer(api.ServerOptions{Workflow: rt.Manager, Events: rt.Hub})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	httpSrv := httptest.NewServer(srv)
	t.Cleanup(func() {
		httpSrv.Close()
		_ = rt.Close(context.Background())
	})
	return &cliTestEnv{
		cfg:        cfg,
		configPath: writeTestConfig(t, cfg),
		apiURL:     httpSrv.URL,
		runtime:    rt,
	}
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLI(t, append([]string{"--config", env.configPath, "--api", env.apiURL}, args...)...)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func (env *cliTestEnv) projectStatus(t *testing.T, id string) workflow.Status {
	t.Helper()
	out, err := env.run(t, "--json", "project", "status", id)
	if err != nil {
		t.Fatalf("project status: %v\n%s", err, out)
	}
	var resp api.ProjectResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	return resp.Project.Status
}

func TestProjectLifecycleOverAPI(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "project", "start", "--id", "tale", "--text", testsupport.Novel)
	if err != nil {
		t.Fatalf("project start: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Project tale started") {
		t.Fatalf("unexpected start output: %q", out)
	}

	testsupport.Eventually(t, 10*time.Second, func() bool {
		return env.projectStatus(t, "tale") == workflow.StatusCompleted
	}, "project did not complete")

	out, err = env.run(t, "project", "list")
	if err != nil {
		t.Fatalf("project list: %v", err)
	}
	if !strings.Contains(out, "tale") || !strings.Contains(out, "Completed") {
		t.Fatalf("list output missing project:\n%s", out)
	}

	out, err = env.run(t, "project", "status", "tale")
	if err != nil {
		t.Fatalf("project status: %v", err)
	}
	if !strings.Contains(out, "Storyboard") || !strings.Contains(out, "100%") {
		t.Fatalf("status output missing stages:\n%s", out)
	}

	out, err = env.run(t, "checkpoint", "list", "tale")
	if err != nil {
		t.Fatalf("checkpoint list: %v", err)
	}
	if strings.Contains(out, "No checkpoints") {
		t.Fatalf("expected checkpoints for a finished project:\n%s", out)
	}

	out, err = env.run(t, "cache", "stats")
	if err != nil {
		t.Fatalf("cache stats: %v", err)
	}
	if !strings.Contains(out, "Misses") {
		t.Fatalf("cache stats output:\n%s", out)
	}
}

func TestProjectStatusUnknownProject(t *testing.T) {
	env := setupCLITestEnv(t)
	_, err := env.run(t, "project", "status", "ghost")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestProjectStartRejectsEmptyInput(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "project", "start", "--text", "   "); err == nil {
		t.Fatal("expected empty input to be rejected")
	}
}

func TestRunCommandInProcess(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeTestConfig(t, cfg)

	out, err := runCLI(t, "--config", path, "run", "--quiet", "--id", "solo", "--text", testsupport.Novel)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Completed") {
		t.Fatalf("run output missing completion:\n%s", out)
	}
	manifest := filepath.Join(cfg.Paths.ExportDir, "solo", stages.ManifestName)
	if _, err := os.Stat(manifest); err != nil {
		t.Fatalf("timeline not exported: %v", err)
	}
}

func TestDaemonStatusWhenStopped(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeTestConfig(t, cfg)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	out, err := runCLI(t, "--config", path, "--api", addr, "daemon", "status")
	if err != nil {
		t.Fatalf("daemon status: %v", err)
	}
	if !strings.Contains(out, "not running") || !strings.Contains(out, "Preflight") {
		t.Fatalf("offline status output:\n%s", out)
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken("s3cret"))
	path := writeTestConfig(t, cfg)

	out, err := runCLI(t, "--config", path, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "s3cret") {
		t.Fatalf("token leaked:\n%s", out)
	}
	if !strings.Contains(out, "api_bind") {
		t.Fatalf("config show missing fields:\n%s", out)
	}
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "dramaforge", "config.toml")
	if out, err := runCLI(t, "config", "init", "--path", target); err != nil {
		t.Fatalf("config init: %v\n%s", err, out)
	}
	if _, _, _, err := config.Load(target); err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
	if _, err := runCLI(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}
}

func TestDisplayStatus(t *testing.T) {
	if got := displayStatus("stage_complete"); got != "Stage Complete" {
		t.Fatalf("displayStatus = %q", got)
	}
}
