// Package store persists checkpoint blobs and durable content cache entries in
// SQLite.
//
// The Store owns the database connection and its per-connection pragmas,
// forward schema migrations, and SQLITE_BUSY retries. It satisfies
// checkpoint.Backend through its Put/Get/List/Delete blob methods and
// contentcache.Tier through its cache entry methods, so both layers share one
// file under the data directory.
//
// Schema changes append a migration in schema.go. Opening a database written
// by a newer build fails with ErrSchemaMismatch.
package store
