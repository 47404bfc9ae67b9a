// Package cache provides the TTL caches injected into the config store, the
// prompt builder and the tool registry.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// DefaultSize bounds a cache built with NewTTL.
const DefaultSize = 4096

// TTL is an expiring LRU with per-key load deduplication. Concurrent misses
// on one key share a single load.
type TTL[K comparable, V any] struct {
	lru   *expirable.LRU[K, V]
	ttl   time.Duration
	group singleflight.Group

	// gen is bumped by every write and invalidation so that a load started
	// before it does not store its stale result.
	mu  sync.Mutex
	gen uint64
}

// NewTTL creates a cache of DefaultSize entries that live for ttl. A ttl of
// zero keeps entries until evicted by size.
func NewTTL[K comparable, V any](ttl time.Duration) *TTL[K, V] {
	return NewSizedTTL[K, V](DefaultSize, ttl)
}

func NewSizedTTL[K comparable, V any](size int, ttl time.Duration) *TTL[K, V] {
	return &TTL[K, V]{lru: expirable.NewLRU[K, V](size, nil, ttl), ttl: ttl}
}

// Get returns the value if present and younger than the TTL.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

// Set stores value and wins over any load still in flight.
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	c.gen++
	c.lru.Add(key, value)
	c.mu.Unlock()
}

func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	c.gen++
	c.lru.Remove(key)
	c.mu.Unlock()
	c.group.Forget(flightKey(key))
}

// Replace swaps the whole content, stamping every entry now.
func (c *TTL[K, V]) Replace(values map[K]V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.lru.Purge()
	for k, v := range values {
		c.lru.Add(k, v)
	}
}

// Clear drops every entry.
func (c *TTL[K, V]) Clear() {
	c.Replace(nil)
}

func (c *TTL[K, V]) Len() int { return c.lru.Len() }

// TTL returns the configured entry lifetime.
func (c *TTL[K, V]) TTL() time.Duration { return c.ttl }

// GetOrLoad returns the cached value for key or runs load once for all
// concurrent callers missing it. A successful result is cached unless the
// key was invalidated while loading. Errors are never cached.
func (c *TTL[K, V]) GetOrLoad(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	fk := flightKey(key)
	res, err, _ := c.group.Do(fk, func() (any, error) {
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		c.mu.Lock()
		gen := c.gen
		c.mu.Unlock()

		v, err := load(ctx)
		if err != nil {
			return v, err
		}

		c.mu.Lock()
		if c.gen == gen {
			c.lru.Add(key, v)
		}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

func flightKey[K comparable](key K) string {
	return fmt.Sprintf("%T:%v", key, key)
}
