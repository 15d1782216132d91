package contentcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"dramaforge/internal/logging"
)

// DefaultTTL is applied when neither the cache nor the caller sets a lifetime.
const DefaultTTL = time.Hour

// Entry is one cached value. Entries are never mutated after insertion.
type Entry struct {
	Key        string
	Value      []byte
	InsertedAt time.Time
	ExpiresAt  time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Tier is a durable second level behind the in-memory map.
type Tier interface {
	LoadCacheEntry(ctx context.Context, key string) (Entry, bool, error)
	StoreCacheEntry(ctx context.Context, entry Entry) error
	DeleteCacheEntry(ctx context.Context, key string) error
	ClearCacheEntries(ctx context.Context) (int64, error)
}

// Options configures a Cache.
type Options struct {
	TTL    time.Duration
	Tier   Tier
	Logger *slog.Logger
	Now    func() time.Time
	// OnLookup observes every Get outcome; used for metrics.
	OnLookup func(hit bool)
}

// Stats summarizes cache activity since construction.
type Stats struct {
	Entries  int   `json:"entries"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Shared   int64 `json:"shared"`
	Upstream int64 `json:"upstream"`
}

// Cache is a TTL memoization layer with single-flight de-duplication.
type Cache struct {
	ttl      time.Duration
	tier     Tier
	logger   *slog.Logger
	now      func() time.Time
	onLookup func(bool)

	mu      sync.Mutex
	entries map[string]Entry

	flight singleflight.Group

	hits, misses, shared, upstream atomic.Int64
}

// New constructs a cache.
func New(opts Options) *Cache {
	c := &Cache{
		ttl:      opts.TTL,
		tier:     opts.Tier,
		logger:   logging.NewComponentLogger(opts.Logger, "content-cache"),
		now:      opts.Now,
		onLookup: opts.OnLookup,
		entries:  make(map[string]Entry),
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Get returns the cached value for key if present and unexpired. Expired
// entries are removed as a side effect.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, ok := c.lookup(ctx, key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	if c.onLookup != nil {
		c.onLookup(ok)
	}
	return value, ok
}

func (c *Cache) lookup(ctx context.Context, key string) ([]byte, bool) {
	now := c.now()

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && entry.expired(now) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	if ok {
		return entry.Value, true
	}
	if c.tier == nil {
		return nil, false
	}

	entry, ok, err := c.tier.LoadCacheEntry(ctx, key)
	if err != nil {
		c.logger.Warn("cache tier read failed",
			logging.String(logging.FieldEventType, "cache_tier_read_failed"),
			logging.String(logging.FieldErrorHint, "inspect the data directory database"),
			logging.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if entry.expired(now) {
		if err := c.tier.DeleteCacheEntry(ctx, key); err != nil {
			c.logger.Debug("cache tier evict failed", logging.Error(err))
		}
		return nil, false
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return entry.Value, true
}

// Set stores value under key. A non-positive ttl selects the cache default.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()
	entry := Entry{
		Key:        key,
		Value:      append([]byte(nil), value...),
		InsertedAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()

	if c.tier != nil {
		if err := c.tier.StoreCacheEntry(ctx, entry); err != nil {
			logging.WarnWithContext(c.logger, "cache tier write failed", "cache_tier_write_failed",
				logging.String(logging.FieldErrorHint, "inspect the data directory database"),
				logging.String(logging.FieldImpact, "entry cached in memory only"),
				logging.Error(err))
		}
	}
}

// Delete removes key from every level.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	if c.tier != nil {
		return c.tier.DeleteCacheEntry(ctx, key)
	}
	return nil
}

// Clear drops every entry and returns how many were removed.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	c.mu.Lock()
	removed := int64(len(c.entries))
	c.entries = make(map[string]Entry)
	c.mu.Unlock()

	if c.tier != nil {
		n, err := c.tier.ClearCacheEntries(ctx)
		if err != nil {
			return removed, fmt.Errorf("clear cache tier: %w", err)
		}
		removed = max(removed, n)
	}
	return removed, nil
}

// Stats reports counters and the in-memory entry count.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return Stats{
		Entries:  n,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Shared:   c.shared.Load(),
		Upstream: c.upstream.Load(),
	}
}

// Fetch returns the cached bytes for key, or runs fn once across all
// concurrent callers for that key and caches its result. hit reports whether
// the value came from cache without waiting on an upstream call.
func (c *Cache) Fetch(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if value, ok := c.Get(ctx, key); ok {
		return value, true, nil
	}
	for {
		ch := c.flight.DoChan(key, func() (any, error) {
			// A caller that raced the previous flight may find the value already stored.
			if value, ok := c.lookup(ctx, key); ok {
				return value, nil
			}
			c.upstream.Add(1)
			value, err := fn(ctx)
			if err != nil {
				return nil, err
			}
			c.Set(ctx, key, value, ttl)
			return value, nil
		})
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case res := <-ch:
			if res.Shared {
				c.shared.Add(1)
			}
			if res.Err != nil {
				// The leader's context ended but ours did not: lead a new flight.
				if isContextErr(res.Err) && ctx.Err() == nil {
					continue
				}
				return nil, false, res.Err
			}
			return res.Val.([]byte), false, nil
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Remember is Fetch for JSON-encodable values. A nil cache calls fn directly.
func Remember[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	if c == nil {
		value, err := fn(ctx)
		return value, false, err
	}
	encode := func(ctx context.Context) ([]byte, error) {
		value, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode cache value: %w", err)
		}
		return encoded, nil
	}
	raw, hit, err := c.Fetch(ctx, key, ttl, encode)
	if err != nil {
		return zero, false, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err == nil {
		return out, hit, nil
	}

	// A corrupt entry is dropped and recomputed through the flight, so
	// concurrent readers share one upstream call and the fresh value is stored.
	_ = c.Delete(ctx, key)
	raw, _, err = c.Fetch(ctx, key, ttl, encode)
	if err != nil {
		return zero, false, err
	}
	out = zero
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, false, fmt.Errorf("decode cache value: %w", err)
	}
	return out, false, nil
}
