package contentcache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dramaforge/internal/contentcache"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func TestKeyIsDeterministic(t *testing.T) {
	settings := map[string]any{"style": "noir", "panels": 4}
	sameSettings := map[string]any{"panels": 4, "style": "noir"}
	a := contentcache.Key("render", "a rainy street", settings)
	b := contentcache.Key("render", "a rainy street", sameSettings)
	if a != b {
		t.Fatalf("expected identical keys, got %s and %s", a, b)
	}
	if a == contentcache.Key("render", "a sunny street", settings) {
		t.Fatal("expected different input to change the key")
	}
	if a == contentcache.Key("animate", "a rainy street", settings) {
		t.Fatal("expected different stage to change the key")
	}
	if len(contentcache.Hash("x")) != 64 {
		t.Fatalf("expected hex sha256 digest, got %q", contentcache.Hash("x"))
	}
}

func TestGetSetAndLazyExpiry(t *testing.T) {
	clk := &clock{now: time.Unix(1000, 0)}
	cache := contentcache.New(contentcache.Options{TTL: time.Minute, Now: clk.Now})
	ctx := context.Background()

	if _, ok := cache.Get(ctx, "k"); ok {
		t.Fatal("expected miss on empty cache")
	}
	cache.Set(ctx, "k", []byte("v"), 0)
	if value, ok := cache.Get(ctx, "k"); !ok || string(value) != "v" {
		t.Fatalf("expected hit, got %q %v", value, ok)
	}

	clk.now = clk.now.Add(2 * time.Minute)
	if _, ok := cache.Get(ctx, "k"); ok {
		t.Fatal("expected expired entry to read as absent")
	}
	if stats := cache.Stats(); stats.Entries != 0 {
		t.Fatalf("expected expired entry evicted on read, have %d entries", stats.Entries)
	}
}

func TestClearRemovesEverything(t *testing.T) {
	cache := contentcache.New(contentcache.Options{})
	ctx := context.Background()
	cache.Set(ctx, "a", []byte("1"), 0)
	cache.Set(ctx, "b", []byte("2"), 0)
	removed, err := cache.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if _, ok := cache.Get(ctx, "a"); ok {
		t.Fatal("expected miss after clear")
	}
}

func TestRememberIsIdempotent(t *testing.T) {
	cache := contentcache.New(contentcache.Options{})
	ctx := context.Background()
	key := contentcache.Key("script", "novel text", map[string]string{"style": "noir"})

	var calls int
	generate := func(context.Context) ([]string, error) {
		calls++
		return []string{"scene one", "scene two"}, nil
	}

	first, hit, err := contentcache.Remember(ctx, cache, key, 0, generate)
	if err != nil || hit {
		t.Fatalf("first call: hit=%v err=%v", hit, err)
	}
	second, hit, err := contentcache.Remember(ctx, cache, key, 0, generate)
	if err != nil || !hit {
		t.Fatalf("second call: hit=%v err=%v", hit, err)
	}
	if calls != 1 {
		t.Fatalf("expected generator invoked once, got %d", calls)
	}
	if len(first) != 2 || first[0] != second[0] || first[1] != second[1] {
		t.Fatalf("expected identical output, got %v and %v", first, second)
	}
}

func TestRememberReplacesCorruptEntry(t *testing.T) {
	cache := contentcache.New(contentcache.Options{})
	ctx := context.Background()
	key := contentcache.Key("storyboard", "chapter one", nil)
	cache.Set(ctx, key, []byte(`{"panels":`), 0)

	var calls atomic.Int32
	generate := func(context.Context) (map[string]int, error) {
		calls.Add(1)
		return map[string]int{"panels": 6}, nil
	}

	got, hit, err := contentcache.Remember(ctx, cache, key, 0, generate)
	if err != nil || hit {
		t.Fatalf("corrupt entry: hit=%v err=%v", hit, err)
	}
	if got["panels"] != 6 {
		t.Fatalf("expected recomputed value, got %v", got)
	}
	if raw, ok := cache.Get(ctx, key); !ok || string(raw) != `{"panels":6}` {
		t.Fatalf("recomputed value not stored, have %q %v", raw, ok)
	}

	again, hit, err := contentcache.Remember(ctx, cache, key, 0, generate)
	if err != nil || !hit || again["panels"] != 6 {
		t.Fatalf("after repair: value=%v hit=%v err=%v", again, hit, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected generator invoked once, got %d", calls.Load())
	}
	if stats := cache.Stats(); stats.Upstream != 1 {
		t.Fatalf("expected one upstream call, got %d", stats.Upstream)
	}
}

func TestFetchSingleFlight(t *testing.T) {
	cache := contentcache.New(contentcache.Options{})
	ctx := context.Background()
	const callers = 16

	var upstream atomic.Int32
	release := make(chan struct{})
	results := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value, _, err := cache.Fetch(ctx, "same-key", 0, func(context.Context) ([]byte, error) {
				upstream.Add(1)
				<-release
				return []byte("image-ref-1"), nil
			})
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			results[i] = string(value)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := upstream.Load(); got != 1 {
		t.Fatalf("expected exactly 1 upstream call, got %d", got)
	}
	for i, r := range results {
		if r != "image-ref-1" {
			t.Fatalf("caller %d got %q", i, r)
		}
	}
}

func TestFetchErrorsAreNotCached(t *testing.T) {
	cache := contentcache.New(contentcache.Options{})
	ctx := context.Background()
	boom := errors.New("provider 503")
	if _, _, err := cache.Fetch(ctx, "k", 0, func(context.Context) ([]byte, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	value, hit, err := cache.Fetch(ctx, "k", 0, func(context.Context) ([]byte, error) { return []byte("ok"), nil })
	if err != nil || hit || string(value) != "ok" {
		t.Fatalf("expected fresh upstream value, got %q hit=%v err=%v", value, hit, err)
	}
}

func TestFetchWaiterHonoursOwnContext(t *testing.T) {
	cache := contentcache.New(contentcache.Options{})
	release := make(chan struct{})
	defer close(release)

	go func() {
		_, _, _ = cache.Fetch(context.Background(), "slow", 0, func(context.Context) ([]byte, error) {
			<-release
			return []byte("late"), nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := cache.Fetch(ctx, "slow", 0, func(context.Context) ([]byte, error) { return []byte("x"), nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type memoryTier struct {
	mu      sync.Mutex
	entries map[string]contentcache.Entry
}

func (m *memoryTier) LoadCacheEntry(_ context.Context, key string) (contentcache.Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *memoryTier) StoreCacheEntry(_ context.Context, e contentcache.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Key] = e
	return nil
}

func (m *memoryTier) DeleteCacheEntry(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *memoryTier) ClearCacheEntries(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.entries))
	m.entries = map[string]contentcache.Entry{}
	return n, nil
}

func TestTierSurvivesRestart(t *testing.T) {
	tier := &memoryTier{entries: map[string]contentcache.Entry{}}
	ctx := context.Background()

	first := contentcache.New(contentcache.Options{Tier: tier})
	first.Set(ctx, "k", []byte("persisted"), time.Hour)

	second := contentcache.New(contentcache.Options{Tier: tier})
	value, ok := second.Get(ctx, "k")
	if !ok || string(value) != "persisted" {
		t.Fatalf("expected tier hit, got %q %v", value, ok)
	}
}
