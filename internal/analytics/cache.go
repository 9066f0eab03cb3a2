package analytics

import (
	"context"
	"sync"
	"time"

	"budget/internal/cache"
	"budget/internal/core"

	"golang.org/x/sync/singleflight"
)

// resultCache memoizes query results per owner. Concurrent misses on the
// same key share one store round trip.
type resultCache struct {
	entries *cache.LRUCache[any]
	group   singleflight.Group

	mu          sync.Mutex
	generations map[string]uint64
}

// computeTimeout bounds a computation shared by concurrent callers.
const computeTimeout = 30 * time.Second

func newResultCache(size int, ttl time.Duration) *resultCache {
	return &resultCache{
		entries:     cache.NewLRUCache[any](size, ttl),
		generations: make(map[string]uint64),
	}
}

func ownerPrefix(owner string) string {
	return owner + "\x00"
}

func (c *resultCache) generation(owner string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[owner]
}

// invalidate bumps the owner's generation so in-flight computations that
// started before the write do not repopulate the cache.
func (c *resultCache) invalidate(owner string) {
	c.mu.Lock()
	c.generations[owner]++
	c.mu.Unlock()
	c.entries.DeletePrefix(ownerPrefix(owner))
}

// cached serves key from the owner's cache or computes it once for every
// concurrent caller. The shared computation is detached from any single
// caller and bounded by computeTimeout; each caller still stops waiting when
// its own context ends.
func cached[T any](e *Engine, ctx context.Context, owner, key string, compute func(context.Context) (T, error)) (T, error) {
	c := e.cache
	if c == nil {
		return compute(ctx)
	}

	full := ownerPrefix(owner) + e.Today().String() + "\x00" + key
	if v, ok := c.entries.Get(full); ok {
		if r, ok := v.(T); ok {
			return r, nil
		}
	}

	gen := c.generation(owner)
	ch := c.group.DoChan(full, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), computeTimeout)
		defer cancel()
		r, err := compute(shared)
		if err != nil {
			return nil, err
		}
		if c.generation(owner) == gen {
			c.entries.Set(full, r)
		}
		return r, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, core.NewUpstream("request cancelled", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}
