// Package notifications pushes workflow milestones to ntfy.
//
// A Notifier subscribes to the event bus and publishes a short message when a
// project completes, a project fails, or a stage fails, each gated by its
// config.toml flag. Delivery happens off the bus goroutine so a slow ntfy
// server never stalls a pipeline. With no topic configured the notifier is a
// no-op.
package notifications
