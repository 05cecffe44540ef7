// Package cache holds the per-process read-through cache in front of the
// index store.
package cache

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Aman-CERP/quizrag/internal/store"
)

// DefaultTTL is how long a loaded index is served before reloading.
const DefaultTTL = 5 * time.Minute

// Loader reads the index. *store.IndexStore implements it.
type Loader interface {
	Load(ctx context.Context, path string) (*store.Index, error)
}

type entry struct {
	index     *store.Index
	loadedAt  time.Time
	expiresAt time.Time
}

// Stats describes the cached entry.
type Stats struct {
	Cached      bool          `json:"cached"`
	Age         time.Duration `json:"age"`
	ExpiresIn   time.Duration `json:"expiresIn"`
	TotalChunks int           `json:"totalChunks"`
	Version     int64         `json:"version"`
}

// IndexCache is a TTL cache of one index document. Concurrent misses share
// a single load. Invalidation is local to this process; other processes
// see a change when their own TTL expires.
type IndexCache struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	entry *entry
	// gen increments on every Invalidate so a load that started before
	// the invalidation does not repopulate the cache.
	gen uint64

	group singleflight.Group
}

// Option configures an IndexCache.
type Option func(*IndexCache)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(c *IndexCache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *IndexCache) { c.now = now }
}

// New creates an empty cache over loader.
func New(loader Loader, opts ...Option) *IndexCache {
	c := &IndexCache{loader: loader, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached index, loading it on a miss. It returns nil when
// the load fails; failures are not cached.
func (c *IndexCache) Get(ctx context.Context) *store.Index {
	idx, err := c.Load(ctx)
	if err != nil {
		return nil
	}
	return idx
}

// Load is Get with the load error reported.
func (c *IndexCache) Load(ctx context.Context) (*store.Index, error) {
	c.mu.Lock()
	if e := c.entry; e != nil && c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.index, nil
	}
	gen := c.gen
	c.mu.Unlock()

	ch := c.group.DoChan(flightKey(gen), func() (any, error) {
		// The load outlives any single waiter's cancellation.
		idx, err := c.loader.Load(context.WithoutCancel(ctx), "")
		if err != nil {
			slog.Warn("index_cache_load_failed", slog.String("error", err.Error()))
			return nil, err
		}
		now := c.now()
		c.mu.Lock()
		if c.gen == gen {
			c.entry = &entry{index: idx, loadedAt: now, expiresAt: now.Add(c.ttl)}
		}
		c.mu.Unlock()
		slog.Debug("index_cache_loaded",
			slog.Int64("version", idx.Version),
			slog.Int("total_chunks", idx.TotalChunks))
		return idx, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*store.Index), nil
	}
}

// Loads started before and after an invalidation must not be merged.
func flightKey(gen uint64) string {
	return "index:" + strconv.FormatUint(gen, 10)
}

// Invalidate drops the cached entry.
func (c *IndexCache) Invalidate() {
	c.mu.Lock()
	c.entry = nil
	c.gen++
	c.mu.Unlock()
	slog.Debug("index_cache_invalidated")
}

// Preload loads the index ahead of the first query.
func (c *IndexCache) Preload(ctx context.Context) error {
	_, err := c.Load(ctx)
	return err
}

// Stats reports on the cached entry without loading.
func (c *IndexCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry
	now := c.now()
	if e == nil || !now.Before(e.expiresAt) {
		return Stats{}
	}
	return Stats{
		Cached:      true,
		Age:         now.Sub(e.loadedAt),
		ExpiresIn:   e.expiresAt.Sub(now),
		TotalChunks: e.index.TotalChunks,
		Version:     e.index.Version,
	}
}

// TTL returns the configured time-to-live.
func (c *IndexCache) TTL() time.Duration { return c.ttl }
