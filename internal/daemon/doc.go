// Package daemon coordinates the long-running dramaforge process.
//
// It wires configuration, the workflow manager, the event and log hubs, and
// the HTTP API into a single lifecycle with flock-based locking to prevent
// multiple instances from sharing one data directory. Preflight checks run on
// start and are reported through /api/status; failures are logged but never
// block startup.
//
// Keep orchestration logic here: stage behavior lives in internal/stages and
// project lifecycle in internal/workflow, while the daemon focuses on startup,
// shutdown, and high level coordination.
package daemon
