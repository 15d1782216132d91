// Package pipeline declares the ordered stage registry and the toolkit stage
// executors run with.
//
// A Registry is an immutable ordered list of stage Definitions. Each
// Definition pairs a StageID with an Executor, a function from a StageContext
// to a JSON-serializable output. The StageContext exposes prior stage outputs,
// the hashed generation Settings, and progress reporting.
//
// Executors reach external generators through Invoke, which layers the
// content cache (single-flight, keyed by stage, input, and settings) over the
// retry policy and records billed usage only for calls that ran. Per-item work
// goes through FanOut, which bounds concurrency with a weighted semaphore,
// waits on the pause Gate before starting each item, and stops issuing items
// as soon as the context is cancelled.
package pipeline
