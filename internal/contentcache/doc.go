// Package contentcache memoizes expensive generator calls by content hash.
//
// Keys are derived from the stage identifier, the input payload, and the
// effective generation settings, each reduced to a SHA-256 hex digest, so the
// same invocation resolves to the same key across process restarts. Entries
// carry an absolute expiry and are evicted lazily on read. Concurrent misses on
// one key share a single upstream call.
//
// An optional Tier (the SQLite store) makes entries survive restarts; the
// in-memory map is always consulted first.
package contentcache
