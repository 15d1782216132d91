// Package workflow runs projects through the ordered stage pipeline.
//
// A Manager owns every project known to the process. Each active project has
// one runner goroutine that executes stages strictly in order, persists a
// checkpoint at every stage boundary (and on a timer while a stage runs), and
// publishes typed events on the bus. Pause closes the project's gate so no new
// stage or fan-out item starts; cancel unwinds the in-flight stage and leaves
// the last completed stage as the resume point. Resume picks up either a
// paused runner or, after a restart, the latest checkpoint.
//
// Project state is guarded by the manager mutex. Events are queued under that
// mutex and delivered after it is released, so listeners may call back into
// the manager.
package workflow
