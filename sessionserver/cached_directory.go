package sessionserver

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/cyberinferno/screenary/cacher"
)

// CachedDirectory fronts a slower Directory (usually RedisDirectory) with an
// in-memory cache of successful lookups. Concurrent lookups of the same key
// share one backend call. Misses are not cached.
type CachedDirectory struct {
	backend Directory
	cache   cacher.Cacher[Record]
	ttl     time.Duration
}

// NewCachedDirectory wraps backend. Cached records live for ttl.
func NewCachedDirectory(backend Directory, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		backend: backend,
		cache:   cacher.NewMemoryCacher[Record](cache.NoExpiration, 2*ttl),
		ttl:     ttl,
	}
}

// Register stores rec in the backend and caches it.
func (d *CachedDirectory) Register(ctx context.Context, rec Record) error {
	if err := d.backend.Register(ctx, rec); err != nil {
		return err
	}

	return d.cache.Set(ctx, rec.Key, rec, d.ttl)
}

// Lookup serves key from the cache, falling back to the backend.
func (d *CachedDirectory) Lookup(ctx context.Context, key string) (Record, error) {
	return d.cache.GetOrFetch(ctx, key, d.ttl, func(ctx context.Context) (Record, error) {
		return d.backend.Lookup(ctx, key)
	})
}

// Remove drops key from the cache and the backend.
func (d *CachedDirectory) Remove(ctx context.Context, key string) error {
	if err := d.cache.Delete(ctx, key); err != nil {
		return err
	}

	return d.backend.Remove(ctx, key)
}

// Count asks the backend; the cache only holds a subset.
func (d *CachedDirectory) Count(ctx context.Context) (int, error) {
	return d.backend.Count(ctx)
}
