// Package events carries typed stage and workflow notifications from the
// project runner to any number of observers.
//
// Bus delivery is synchronous and in subscription order. A listener that
// returns an error or panics is logged and skipped; the emitter never sees
// the failure. Hub is a listener that buffers recent events for long-poll
// readers such as the HTTP API.
package events
