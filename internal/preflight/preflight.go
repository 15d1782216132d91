package preflight

import (
	"context"

	"dramaforge/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// MinFreeBytes is the free space the data and export directories need.
const MinFreeBytes = 256 << 20

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Export directory", cfg.Paths.ExportDir),
		CheckFreeSpace("Data volume", cfg.Paths.DataDir, MinFreeBytes),
	}
	if cfg.Paths.ExportDir != cfg.Paths.DataDir {
		results = append(results, CheckFreeSpace("Export volume", cfg.Paths.ExportDir, MinFreeBytes))
	}

	if cfg.LLM.BaseURL != "" {
		results = append(results, CheckLLM(ctx, "Text LLM", cfg.LLM))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
