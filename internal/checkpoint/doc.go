// Package checkpoint stores durable snapshots of project progress so a run can
// resume after a crash, cancel, or restart.
//
// Snapshots are written through a Backend, a minimal put/get/list/delete blob
// store. Three backends exist: Memory for tests, File for a plain directory
// tree guarded by an flock, and the SQLite store in internal/store. Every
// checkpoint is written under checkpoint/<id> and a latest/<project> pointer
// is advanced so LoadLatest is a two-read operation regardless of history
// length.
package checkpoint
