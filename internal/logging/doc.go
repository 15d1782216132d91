// Package logging assembles structured slog loggers and formatting helpers used
// across dramaforge services.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage executors automatically
// tag log lines with project IDs, stages, and correlation IDs. StreamHub keeps
// a bounded tail of recent records for the API log endpoint, and
// ProgressSampler keeps per-tick progress from flooding the output.
package logging
