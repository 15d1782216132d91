package testsupport

import (
	"path/filepath"
	"testing"

	"dramaforge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Retries are instant and checkpoints use the in-memory backend unless an
// option says otherwise.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ExportDir = filepath.Join(base, "exports")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Retry.InitialDelayMS = 1
	cfgVal.Retry.MaxDelayMS = 5
	cfgVal.Pipeline.CheckpointIntervalSeconds = 0
	cfgVal.Checkpoint.Backend = "memory"
	cfgVal.Cache.Persistent = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithCheckpointBackend selects the checkpoint backend.
func WithCheckpointBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Checkpoint.Backend = backend
	}
}

// WithConcurrency sets the fan-out cap.
func WithConcurrency(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.MaxConcurrency = n
	}
}

// WithAPIToken sets the bearer token required by the API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithPipeline lets a test adjust orchestration knobs directly.
func WithPipeline(fn func(*config.Pipeline)) ConfigOption {
	return func(b *configBuilder) {
		fn(&b.cfg.Pipeline)
	}
}

// BaseDir returns the temp root of a config built by NewConfig.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
