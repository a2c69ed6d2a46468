package cacher

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// MemoryCacher is a Cacher backed by go-cache. Concurrent fetches of one
// missing key are collapsed with singleflight.
type MemoryCacher[T any] struct {
	cache *cache.Cache
	group singleflight.Group
}

var _ Cacher[int] = (*MemoryCacher[int])(nil)

// NewMemoryCacher creates an empty MemoryCacher.
//
// Parameters:
//   - defaultExpiration: TTL used when a call passes ttl 0 (cache.NoExpiration keeps entries until deleted)
//   - cleanupInterval: How often expired entries are purged; 0 disables purging
//
// Returns:
//   - A new MemoryCacher
func NewMemoryCacher[T any](defaultExpiration, cleanupInterval time.Duration) *MemoryCacher[T] {
	return &MemoryCacher[T]{cache: cache.New(defaultExpiration, cleanupInterval)}
}

// Get returns the cached value for key.
func (c *MemoryCacher[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	v, ok := c.lookup(key)
	return v, ok, nil
}

// Add stores value unless key already holds a live value.
func (c *MemoryCacher[T]) Add(ctx context.Context, key string, value T, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.cache.Add(key, value, ttl); err != nil {
		return fmt.Errorf("add %q: %w", key, ErrKeyExists)
	}

	return nil
}

// Set stores value under key, replacing any previous value.
func (c *MemoryCacher[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.cache.Set(key, value, ttl)
	return nil
}

// GetOrFetch returns the cached value for key, fetching and caching it on a
// miss. Failed fetches are not cached.
func (c *MemoryCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T

	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		// filled by another caller while this one waited
		if v, ok := c.lookup(key); ok {
			return v, nil
		}

		fetched, err := fetchFn(ctx)
		if err != nil {
			return zero, err
		}

		c.cache.Set(key, fetched, ttl)
		return fetched, nil
	})

	if err != nil {
		return zero, err
	}

	typed, ok := val.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected type in cache for key %s", key)
	}

	return typed, nil
}

// Delete removes key from the cache.
func (c *MemoryCacher[T]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.cache.Delete(key)
	return nil
}

// ItemCount returns the number of entries in the cache.
func (c *MemoryCacher[T]) ItemCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return c.cache.ItemCount(), nil
}

func (c *MemoryCacher[T]) lookup(key string) (T, bool) {
	if val, found := c.cache.Get(key); found {
		if typed, ok := val.(T); ok {
			return typed, true
		}
	}

	var zero T
	return zero, false
}
