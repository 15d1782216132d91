// Package api is the HTTP surface of the daemon and the client the CLI uses
// to reach it.
//
// # Routes
//
//	POST /api/projects                          start a project
//	GET  /api/projects                          list summaries
//	GET  /api/projects/{id}                     full project state
//	POST /api/projects/{id}/{pause|resume|cancel|retry}
//	POST /api/projects/{id}/stages/{stage}/skip
//	GET  /api/projects/{id}/checkpoints         checkpoint history
//	POST /api/projects/{id}/checkpoints/prune   drop older checkpoints
//	GET  /api/events                            long-poll the event hub
//	GET  /api/logs                              long-poll the log stream
//	GET  /api/cache, DELETE /api/cache          content cache stats and reset
//	GET  /api/status                            daemon and manager status
//	GET  /metrics                               Prometheus exposition
//
// Every route requires "Authorization: Bearer <token>" when paths.api_token is
// set. Errors are JSON objects carrying the message and the services marker
// label, which the Client maps back onto the same markers so callers can use
// errors.Is across the wire.
//
// # Design Notes
//
// Wire types use snake_case JSON tags to match the project snapshots and
// events they embed. Timestamps in summaries use RFC3339 with milliseconds.
// Checkpoint listings never include the serialized project payload.
package api
