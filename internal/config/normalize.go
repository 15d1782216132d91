package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeGeneration()
	c.normalizePipeline()
	c.normalizeLLM()
	c.normalizeLogging()
	c.Checkpoint.Backend = strings.ToLower(strings.TrimSpace(c.Checkpoint.Backend))
	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = defaultCheckpointBackend
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.ExportDir, err = expandPath(c.Paths.ExportDir); err != nil {
		return fmt.Errorf("paths.export_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("DRAMAFORGE_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeGeneration() {
	c.Generation.Style = strings.TrimSpace(c.Generation.Style)
	if c.Generation.Style == "" {
		c.Generation.Style = defaultStyle
	}
	c.Generation.AspectRatio = strings.TrimSpace(c.Generation.AspectRatio)
	if c.Generation.AspectRatio == "" {
		c.Generation.AspectRatio = defaultAspectRatio
	}
	c.Generation.Voice = strings.TrimSpace(c.Generation.Voice)
	if c.Generation.Voice == "" {
		c.Generation.Voice = defaultVoice
	}
}

func (c *Config) normalizePipeline() {
	if !c.Pipeline.EnableParallel {
		c.Pipeline.MaxConcurrency = 1
	}
	if c.Pipeline.MaxConcurrency <= 0 {
		c.Pipeline.MaxConcurrency = defaultMaxConcurrency
	}
	stages := c.Pipeline.OptionalStages[:0]
	for _, stage := range c.Pipeline.OptionalStages {
		if stage = strings.ToLower(strings.TrimSpace(stage)); stage != "" {
			stages = append(stages, stage)
		}
	}
	c.Pipeline.OptionalStages = stages
}

func (c *Config) normalizeLLM() {
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		for _, key := range []string{"DRAMAFORGE_LLM_API_KEY", "OPENAI_API_KEY"} {
			if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
				c.LLM.APIKey = strings.TrimSpace(value)
				break
			}
		}
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
