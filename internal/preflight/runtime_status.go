package preflight

import (
	"context"
	"strings"

	"dramaforge/internal/config"
)

// CheckLLMFromConfig evaluates the text endpoint for status displays. An
// unconfigured endpoint passes, since the offline suite is used instead.
func CheckLLMFromConfig(ctx context.Context, cfg *config.Config) Result {
	const name = "Text LLM"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.LLM.BaseURL) == "" {
		return Result{Name: name, Passed: true, Detail: "Offline generators"}
	}
	if strings.TrimSpace(cfg.LLM.APIKey) == "" {
		return Result{Name: name, Detail: "Missing API key"}
	}
	return CheckLLM(ctx, name, cfg.LLM)
}
