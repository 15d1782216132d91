package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"dramaforge/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if want := filepath.Join(tempHome, ".config", "dramaforge", "config.toml"); resolved != want {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, want)
	}
	if want := filepath.Join(tempHome, ".local", "share", "dramaforge"); cfg.Paths.DataDir != want {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, want)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7488" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Generation.ChaptersToUse != 5 || cfg.Generation.ScenesPerChapter != 3 || cfg.Generation.PanelsPerScene != 4 {
		t.Fatalf("unexpected generation defaults: %+v", cfg.Generation)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.InitialDelayMS != 1000 || cfg.Retry.MaxDelayMS != 10000 || cfg.Retry.Multiplier != 2 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if len(cfg.Pipeline.OptionalStages) != 1 || cfg.Pipeline.OptionalStages[0] != "lipsync" {
		t.Fatalf("expected lipsync optional by default, got %v", cfg.Pipeline.OptionalStages)
	}
}

func TestLoadCustomConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("DRAMAFORGE_LLM_API_KEY", "env-key")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `[paths]
data_dir = "~/forge"
export_dir = "~/forge/out"

[pipeline]
enable_parallel = false
max_concurrency = 8
optional_stages = [" LipSync ", "voice"]

[llm]
base_url = "http://localhost:8080/v1/chat/completions"
model = "local-model"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "forge") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Pipeline.MaxConcurrency != 1 {
		t.Fatalf("expected concurrency forced to 1 when parallel disabled, got %d", cfg.Pipeline.MaxConcurrency)
	}
	if got := strings.Join(cfg.Pipeline.OptionalStages, ","); got != "lipsync,voice" {
		t.Fatalf("unexpected optional stages %q", got)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Fatalf("expected llm key from env, got %q", cfg.LLM.APIKey)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*config.Config){
		"retry attempts":    func(c *config.Config) { c.Retry.MaxAttempts = 0 },
		"retry delays":      func(c *config.Config) { c.Retry.MaxDelayMS = 10 },
		"multiplier":        func(c *config.Config) { c.Retry.Multiplier = 0.5 },
		"backend":           func(c *config.Config) { c.Checkpoint.Backend = "redis" },
		"optional stage":    func(c *config.Config) { c.Pipeline.OptionalStages = []string{"mixdown"} },
		"panels":            func(c *config.Config) { c.Generation.PanelsPerScene = 0 },
		"aspect ratio":      func(c *config.Config) { c.Generation.AspectRatio = "wide" },
		"llm without key":   func(c *config.Config) { c.LLM.BaseURL = "http://x"; c.LLM.Model = "m" },
		"llm without model": func(c *config.Config) { c.LLM.BaseURL = "http://x"; c.LLM.APIKey = "k" },
		"log format":        func(c *config.Config) { c.Logging.Format = "xml" },
	}
	for name, mutate := range cases {
		cfg := config.Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestCreateSampleParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var cfg config.Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if cfg.Checkpoint.Backend != "sqlite" {
		t.Fatalf("unexpected backend in sample: %q", cfg.Checkpoint.Backend)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.ExportDir = filepath.Join(base, "exports")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir, cfg.Paths.ExportDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s", dir)
		}
	}
}
