package config

import (
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	LogDir    string `toml:"log_dir"`
	ExportDir string `toml:"export_dir"`
	APIBind   string `toml:"api_bind"`
	APIToken  string `toml:"api_token"`
}

// Generation holds the defaults for settings that shape generated content.
// Every field here participates in content cache keys.
type Generation struct {
	Style            string            `toml:"style"`
	AspectRatio      string            `toml:"aspect_ratio"`
	ChaptersToUse    int               `toml:"chapters_to_use"`
	ScenesPerChapter int               `toml:"scenes_per_chapter"`
	PanelsPerScene   int               `toml:"panels_per_scene"`
	ClipSeconds      float64           `toml:"clip_seconds"`
	Voice            string            `toml:"voice"`
	VoiceRate        float64           `toml:"voice_rate"`
	VoicePitch       float64           `toml:"voice_pitch"`
	CharacterVoices  map[string]string `toml:"character_voices"`
}

// Pipeline holds orchestration knobs. None of these affect cache keys.
type Pipeline struct {
	EnableRetry               bool     `toml:"enable_retry"`
	EnableCache               bool     `toml:"enable_cache"`
	EnableCheckpoint          bool     `toml:"enable_checkpoint"`
	EnableParallel            bool     `toml:"enable_parallel"`
	AutoProceed               bool     `toml:"auto_proceed"`
	MaxConcurrency            int      `toml:"max_concurrency"`
	StageTimeoutSeconds       int      `toml:"stage_timeout_seconds"`
	CheckpointIntervalSeconds int      `toml:"checkpoint_interval_seconds"`
	CheckpointKeep            int      `toml:"checkpoint_keep"`
	OptionalStages            []string `toml:"optional_stages"`
}

// Retry contains the default retry policy for generator calls.
type Retry struct {
	MaxAttempts    int     `toml:"max_attempts"`
	InitialDelayMS int     `toml:"initial_delay_ms"`
	MaxDelayMS     int     `toml:"max_delay_ms"`
	Multiplier     float64 `toml:"multiplier"`
}

// Cache contains content cache settings.
type Cache struct {
	TTLSeconds int  `toml:"ttl_seconds"`
	Persistent bool `toml:"persistent"`
}

// Checkpoint selects the checkpoint backing store.
type Checkpoint struct {
	Backend string `toml:"backend"`
}

// LLM contains the OpenAI-compatible text endpoint. An empty base_url selects
// the offline generator suite.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic        string `toml:"ntfy_topic"`
	RequestTimeout   int    `toml:"request_timeout"`
	WorkflowComplete bool   `toml:"workflow_complete"`
	WorkflowFail     bool   `toml:"workflow_fail"`
	StageFail        bool   `toml:"stage_fail"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics toggles the Prometheus endpoint.
type Metrics struct {
	Enabled bool `toml:"enabled"`
}

// Config encapsulates all configuration values for dramaforge.
//
// Configuration sections by subsystem:
//   - Paths: data, logs, exports, and the API bind address
//   - Generation: content settings hashed into cache keys
//   - Pipeline: feature toggles, concurrency, timeouts, checkpoint cadence
//   - Retry: default backoff policy for generator calls
//   - Cache / Checkpoint: persistence choices
//   - LLM: text generation endpoint
//   - Notifications: ntfy push notification settings
//   - Logging / Metrics: observability
type Config struct {
	Paths         Paths         `toml:"paths"`
	Generation    Generation    `toml:"generation"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Retry         Retry         `toml:"retry"`
	Cache         Cache         `toml:"cache"`
	Checkpoint    Checkpoint    `toml:"checkpoint"`
	LLM           LLM           `toml:"llm"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Metrics       Metrics       `toml:"metrics"`
}

// Derived locations and durations.

func (c *Config) DatabasePath() string  { return filepath.Join(c.Paths.DataDir, "dramaforge.db") }
func (c *Config) CheckpointDir() string { return filepath.Join(c.Paths.DataDir, "checkpoints") }
func (c *Config) LockPath() string      { return filepath.Join(c.Paths.DataDir, "dramaforged.lock") }

// StageTimeout is zero when stages may run unbounded.
func (c *Config) StageTimeout() time.Duration { return seconds(c.Pipeline.StageTimeoutSeconds) }

// CheckpointInterval is zero when periodic checkpoints are off.
func (c *Config) CheckpointInterval() time.Duration {
	return seconds(c.Pipeline.CheckpointIntervalSeconds)
}

func (c *Config) CacheTTL() time.Duration { return seconds(c.Cache.TTLSeconds) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Encode renders the config as TOML.
func (c *Config) Encode() ([]byte, error) { return toml.Marshal(c) }
