package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/soyeahso/chatterbox/internal/logging"
	"github.com/soyeahso/chatterbox/internal/observe"
)

type cacheEntry struct {
	result    string
	expiresAt time.Time
}

// ResultCache stores tool results keyed by tool name and arguments for a
// fixed TTL. Expired entries are evicted lazily on lookup. A TTL of zero or
// less disables the cache: Get always misses and Put does nothing.
type ResultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

// CacheOption configures a ResultCache.
type CacheOption func(*ResultCache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *ResultCache) { c.now = now }
}

// NewResultCache creates a cache with the given TTL.
func NewResultCache(ttl time.Duration, opts ...CacheOption) *ResultCache {
	c := &ResultCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Enabled reports whether the cache stores anything.
func (c *ResultCache) Enabled() bool { return c.ttl > 0 }

// TTL returns the configured time to live.
func (c *ResultCache) TTL() time.Duration { return c.ttl }

// CacheKey returns the lookup key for a call. Arguments are encoded as JSON
// with sorted keys, so argument order never matters.
func CacheKey(name string, args map[string]any) string {
	if args == nil {
		args = map[string]any{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		// fmt prints maps with sorted keys too.
		return name + ":" + fmt.Sprint(args)
	}
	return name + ":" + string(b)
}

// Get returns the cached result for the call, if present and unexpired.
func (c *ResultCache) Get(name string, args map[string]any) (string, bool) {
	if !c.Enabled() {
		return "", false
	}
	key := CacheKey(name, args)

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return e.result, true
}

// Put stores a result.
func (c *ResultCache) Put(name string, args map[string]any, result string) {
	if !c.Enabled() {
		return
	}
	key := CacheKey(name, args)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: result, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate removes the entry for one call, or every entry for the tool
// when args is nil. It returns the number of entries removed.
func (c *ResultCache) Invalidate(name string, args map[string]any) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if args != nil {
		key := CacheKey(name, args)
		if _, ok := c.entries[key]; ok {
			delete(c.entries, key)
			return 1
		}
		return 0
	}

	prefix := name + ":"
	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear removes every entry.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of stored entries, including expired entries
// that have not been looked up since they expired.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CachingDispatcher serves repeated tool calls from a ResultCache and
// forwards misses to an inner dispatcher. Concurrent identical misses share
// one inner call. Errors are never cached.
type CachingDispatcher struct {
	inner   Dispatcher
	cache   *ResultCache
	group   singleflight.Group
	log     *logging.Logger
	metrics *observe.Metrics
}

// NewCachingDispatcher wraps inner with cache. metrics may be nil.
func NewCachingDispatcher(inner Dispatcher, cache *ResultCache, log *logging.Logger, metrics *observe.Metrics) *CachingDispatcher {
	return &CachingDispatcher{
		inner:   inner,
		cache:   cache,
		log:     log.Sub("cache"),
		metrics: metrics,
	}
}

// Dispatch has the Dispatcher signature, so d.Dispatch can replace a bare
// dispatcher anywhere.
func (d *CachingDispatcher) Dispatch(ctx context.Context, name string, args map[string]any) (string, error) {
	if !d.cache.Enabled() {
		return d.inner(ctx, name, args)
	}

	if result, ok := d.cache.Get(name, args); ok {
		d.log.Debug().Str("tool", name).Msg("cache hit")
		d.metrics.RecordCacheLookup(ctx, name, true)
		return result, nil
	}
	d.metrics.RecordCacheLookup(ctx, name, false)

	// The shared call outlives any one caller's cancellation; the inner
	// dispatcher's own timeout bounds it. Each caller still stops waiting
	// when its own ctx ends.
	shared := context.WithoutCancel(ctx)
	ch := d.group.DoChan(CacheKey(name, args), func() (any, error) {
		result, err := d.inner(shared, name, args)
		if err != nil {
			return "", err
		}
		d.cache.Put(name, args, result)
		return result, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			d.log.Debug().Str("tool", name).Msg("joined in-flight call")
		}
		return res.Val.(string), nil
	}
}

// Cache returns the underlying cache.
func (d *CachingDispatcher) Cache() *ResultCache { return d.cache }
