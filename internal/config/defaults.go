package config

const (
	defaultConfigPath                = "~/.config/dramaforge/config.toml"
	defaultDataDir                   = "~/.local/share/dramaforge"
	defaultLogDir                    = "~/.local/share/dramaforge/logs"
	defaultExportDir                 = "~/dramaforge/exports"
	defaultAPIBind                   = "127.0.0.1:7488"
	defaultStyle                     = "cinematic"
	defaultAspectRatio               = "16:9"
	defaultChaptersToUse             = 5
	defaultScenesPerChapter          = 3
	defaultPanelsPerScene            = 4
	defaultClipSeconds               = 5
	defaultVoice                     = "narrator"
	defaultMaxConcurrency            = 3
	defaultStageTimeoutSeconds       = 1800
	defaultCheckpointIntervalSeconds = 30
	defaultCheckpointKeep            = 10
	defaultRetryAttempts             = 3
	defaultRetryInitialDelayMS       = 1000
	defaultRetryMaxDelayMS           = 10000
	defaultRetryMultiplier           = 2
	defaultCacheTTLSeconds           = 3600
	defaultCheckpointBackend         = "sqlite"
	defaultLLMTimeoutSeconds         = 60
	defaultNotifyRequestTimeout      = 10
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			ExportDir: defaultExportDir,
			APIBind:   defaultAPIBind,
		},
		Generation: Generation{
			Style:            defaultStyle,
			AspectRatio:      defaultAspectRatio,
			ChaptersToUse:    defaultChaptersToUse,
			ScenesPerChapter: defaultScenesPerChapter,
			PanelsPerScene:   defaultPanelsPerScene,
			ClipSeconds:      defaultClipSeconds,
			Voice:            defaultVoice,
			VoiceRate:        1.0,
			VoicePitch:       1.0,
		},
		Pipeline: Pipeline{
			EnableRetry:               true,
			EnableCache:               true,
			EnableCheckpoint:          true,
			EnableParallel:            true,
			AutoProceed:               true,
			MaxConcurrency:            defaultMaxConcurrency,
			StageTimeoutSeconds:       defaultStageTimeoutSeconds,
			CheckpointIntervalSeconds: defaultCheckpointIntervalSeconds,
			CheckpointKeep:            defaultCheckpointKeep,
			OptionalStages:            []string{"lipsync"},
		},
		Retry: Retry{
			MaxAttempts:    defaultRetryAttempts,
			InitialDelayMS: defaultRetryInitialDelayMS,
			MaxDelayMS:     defaultRetryMaxDelayMS,
			Multiplier:     defaultRetryMultiplier,
		},
		Cache: Cache{
			TTLSeconds: defaultCacheTTLSeconds,
			Persistent: true,
		},
		Checkpoint: Checkpoint{
			Backend: defaultCheckpointBackend,
		},
		LLM: LLM{
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeout:   defaultNotifyRequestTimeout,
			WorkflowComplete: true,
			WorkflowFail:     true,
			StageFail:        true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Metrics: Metrics{
			Enabled: true,
		},
	}
}
