package store

import (
	"context"
	"errors"
	"fmt"
)

// migrations[i] upgrades a database from user_version i to i+1. Entries are
// append-only; released migrations are never edited.
var migrations = []string{
	`CREATE TABLE blobs (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE cache_entries (
		key         TEXT PRIMARY KEY,
		value       BLOB NOT NULL,
		inserted_at INTEGER NOT NULL,
		expires_at  INTEGER NOT NULL
	);
	CREATE INDEX idx_cache_entries_expires ON cache_entries (expires_at)`,
}

// SchemaVersion is the user_version this binary migrates databases to.
var SchemaVersion = len(migrations)

// ErrSchemaMismatch reports a database written by a newer binary.
var ErrSchemaMismatch = errors.New("schema version mismatch")

func (s *Store) version(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// migrate applies every pending migration, each in its own transaction.
func (s *Store) migrate(ctx context.Context) error {
	current, err := s.version(ctx)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return fmt.Errorf("%w: %s is at version %d but this build supports %d; upgrade dramaforge or delete the database",
			ErrSchemaMismatch, s.path, current, SchemaVersion)
	}
	for v := current; v < SchemaVersion; v++ {
		if err := s.apply(ctx, v+1, migrations[v]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, version int, stmt string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("apply migration %d: %w", version, err)
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("record schema version %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", version, err)
	}
	return nil
}
