package config

import (
	"errors"
	"fmt"
	"strings"
)

// knownStages mirrors the pipeline order; config cannot import the pipeline package.
var knownStages = map[string]struct{}{
	"parse": {}, "script": {}, "storyboard": {}, "character": {}, "render": {},
	"animate": {}, "voice": {}, "lipsync": {}, "export": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateGeneration(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateCheckpoint(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.ExportDir == "" {
		return errors.New("paths.export_dir must be set")
	}
	return nil
}

func (c *Config) validateGeneration() error {
	g := c.Generation
	if g.ChaptersToUse <= 0 {
		return errors.New("generation.chapters_to_use must be positive")
	}
	if g.ScenesPerChapter <= 0 {
		return errors.New("generation.scenes_per_chapter must be positive")
	}
	if g.PanelsPerScene <= 0 {
		return errors.New("generation.panels_per_scene must be positive")
	}
	if g.ClipSeconds <= 0 {
		return errors.New("generation.clip_seconds must be positive")
	}
	if g.VoiceRate <= 0 || g.VoicePitch <= 0 {
		return errors.New("generation.voice_rate and generation.voice_pitch must be positive")
	}
	if !strings.Contains(g.AspectRatio, ":") {
		return fmt.Errorf("generation.aspect_ratio %q must look like W:H", g.AspectRatio)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	if p.MaxConcurrency > 32 {
		return fmt.Errorf("pipeline.max_concurrency %d exceeds the limit of 32", p.MaxConcurrency)
	}
	if p.StageTimeoutSeconds < 0 {
		return errors.New("pipeline.stage_timeout_seconds must be >= 0")
	}
	if p.CheckpointIntervalSeconds < 0 {
		return errors.New("pipeline.checkpoint_interval_seconds must be >= 0")
	}
	if p.CheckpointKeep < 0 {
		return errors.New("pipeline.checkpoint_keep must be >= 0")
	}
	for _, stage := range p.OptionalStages {
		if _, ok := knownStages[stage]; !ok {
			return fmt.Errorf("pipeline.optional_stages: unknown stage %q", stage)
		}
	}
	return nil
}

func (c *Config) validateRetry() error {
	r := c.Retry
	if r.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if r.InitialDelayMS < 0 || r.MaxDelayMS < 0 {
		return errors.New("retry delays must be >= 0")
	}
	if r.MaxDelayMS < r.InitialDelayMS {
		return errors.New("retry.max_delay_ms must be >= retry.initial_delay_ms")
	}
	if r.Multiplier < 1 {
		return errors.New("retry.multiplier must be >= 1")
	}
	return nil
}

func (c *Config) validateCheckpoint() error {
	switch c.Checkpoint.Backend {
	case "sqlite", "file", "memory":
		return nil
	default:
		return fmt.Errorf("checkpoint.backend %q must be one of sqlite, file, memory", c.Checkpoint.Backend)
	}
}

func (c *Config) validateLLM() error {
	if c.LLM.BaseURL == "" {
		return nil
	}
	if c.LLM.Model == "" {
		return errors.New("llm.model must be set when llm.base_url is configured")
	}
	if c.LLM.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("llm.api_key is required when llm.base_url is set. Set DRAMAFORGE_LLM_API_KEY or edit %s", defaultPath)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn, or error", c.Logging.Level)
	}
}
