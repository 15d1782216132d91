package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dramaforge/internal/contentcache"
)

// LoadCacheEntry implements contentcache.Tier.
func (s *Store) LoadCacheEntry(ctx context.Context, key string) (contentcache.Entry, bool, error) {
	var (
		value      []byte
		insertedAt int64
		expiresAt  int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT value, inserted_at, expires_at FROM cache_entries WHERE key = ?", key,
	).Scan(&value, &insertedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return contentcache.Entry{}, false, nil
	}
	if err != nil {
		return contentcache.Entry{}, false, fmt.Errorf("load cache entry: %w", err)
	}
	return contentcache.Entry{
		Key:        key,
		Value:      value,
		InsertedAt: time.UnixMilli(insertedAt),
		ExpiresAt:  time.UnixMilli(expiresAt),
	}, true, nil
}

// StoreCacheEntry implements contentcache.Tier.
func (s *Store) StoreCacheEntry(ctx context.Context, entry contentcache.Entry) error {
	_, err := s.exec(ctx,
		`INSERT INTO cache_entries (key, value, inserted_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, inserted_at = excluded.inserted_at, expires_at = excluded.expires_at`,
		entry.Key, entry.Value, entry.InsertedAt.UnixMilli(), entry.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}
	return nil
}

// DeleteCacheEntry implements contentcache.Tier.
func (s *Store) DeleteCacheEntry(ctx context.Context, key string) error {
	if _, err := s.exec(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// ClearCacheEntries implements contentcache.Tier.
func (s *Store) ClearCacheEntries(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, "DELETE FROM cache_entries")
	if err != nil {
		return 0, fmt.Errorf("clear cache entries: %w", err)
	}
	return res.RowsAffected()
}

// PurgeExpiredCacheEntries removes entries whose expiry is before now.
func (s *Store) PurgeExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.exec(ctx, "DELETE FROM cache_entries WHERE expires_at < ?", now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge cache entries: %w", err)
	}
	return res.RowsAffected()
}

// CacheEntryCount reports the number of persisted cache entries.
func (s *Store) CacheEntryCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM cache_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}
