// Package preflight provides readiness checks for the filesystem paths and
// external services dramaforge depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll on start and logs every failure; a failed check
//     never blocks startup, since projects may still be inspected and resumed.
//   - The CLI "dramaforge config validate" command prints the same results.
//
// The LLM check only runs when an endpoint is configured; the offline
// generator suite needs nothing external.
package preflight
