package realtime

import (
	"context"
	"sync"
)

// Cache holds the last fetched value until a change on one of the watched
// collections invalidates it. The next Get refetches.
type Cache[T any] struct {
	fetch func(context.Context) (T, error)

	mu    sync.Mutex
	val   T
	valid bool
	gen   uint64
}

// NewCache wraps fetch.
func NewCache[T any](fetch func(context.Context) (T, error)) *Cache[T] {
	return &Cache[T]{fetch: fetch}
}

// Get returns the cached value, fetching it when invalid.
func (c *Cache[T]) Get(ctx context.Context) (T, error) {
	c.mu.Lock()
	if c.valid {
		v := c.val
		c.mu.Unlock()
		return v, nil
	}
	gen := c.gen
	c.mu.Unlock()

	v, err := c.fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	c.mu.Lock()
	// A change that arrived during the fetch makes the result stale.
	if c.gen == gen {
		c.val = v
		c.valid = true
	}
	c.mu.Unlock()
	return v, nil
}

// Invalidate drops the cached value.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.gen++
	c.mu.Unlock()
}

// Watch invalidates the cache on every change to collections until ctx ends.
func (c *Cache[T]) Watch(ctx context.Context, feed *Feed, collections ...string) {
	ch := feed.Subscribe(ctx, collections...)
	go func() {
		for range ch {
			c.Invalidate()
		}
	}()
}
