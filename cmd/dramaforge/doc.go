// Package main hosts the dramaforge CLI entrypoint and command graph.
//
// The Cobra command tree either talks to a running daemon over its HTTP API
// (project, checkpoint, and cache commands) or assembles the runtime in
// process for one-shot runs. Configuration resolution and output rendering
// live here; the pipeline itself stays in the internal packages.
package main
