// Package services defines shared utilities consumed by the pipeline stage
// executors and generator adapters.
//
// Key responsibilities:
//   - Context helpers that stamp project IDs, stage names, fan-out item keys,
//     and correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper, and the Classify and
//     IsRetryable functions that split failures into transient, fatal, and
//     cancelled classes.
//
// Use these helpers when wiring new stage logic so retries and failure events
// stay uniform across the pipeline.
package services
