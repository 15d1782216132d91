// Package generators defines the external generation capabilities stage
// executors depend on and ships two implementations.
//
// The capability interfaces (TextGenerator, ImageGenerator, VideoGenerator,
// SpeechSynthesizer, LipSyncer) return opaque references on success and
// errors tagged with services markers on failure, so the retry classifier can
// tell transient provider trouble from rejected input.
//
// # Implementations
//
// Offline is a deterministic local suite: text tasks are rendered from the
// request variables and media references are content hashes. It needs no
// network and yields identical outputs for identical inputs, which makes runs
// reproducible and resumable in tests.
//
// OpenAI is a chat-completions text client for any OpenAI-compatible
// endpoint. It performs exactly one HTTP request per call and maps status
// codes onto the error taxonomy; retries belong to the caller's policy.
// HTTP 408, 429, and 5xx are transient and carry any Retry-After hint, 401 and
// 403 are configuration errors, and other 4xx responses are validation errors.
package generators
