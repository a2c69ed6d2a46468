// Package cacher provides a typed in-memory cache with fetch-on-miss. The
// session directory uses it both as its store and as the read-through cache
// in front of Redis.
package cacher

import (
	"context"
	"errors"
	"time"
)

// ErrKeyExists is returned by Add when the key already holds a live value.
var ErrKeyExists = errors.New("cacher: key already exists")

// FetchFunc loads a value from the source on a cache miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cacher caches values of type T by string key. Implementations must be safe
// for concurrent use.
type Cacher[T any] interface {
	// Get returns the cached value for key and whether it was found.
	Get(ctx context.Context, key string) (T, bool, error)

	// Add stores value only if key is absent or expired.
	//
	// Parameters:
	//   - ctx: Context for cancellation
	//   - key: The cache key
	//   - value: The value to store
	//   - ttl: Lifetime of the entry; 0 selects the cache default
	//
	// Returns:
	//   - ErrKeyExists if key already holds a live value
	Add(ctx context.Context, key string, value T, ttl time.Duration) error

	// Set stores value, replacing any previous one.
	Set(ctx context.Context, key string, value T, ttl time.Duration) error

	// GetOrFetch returns the cached value for key, or calls fetchFn and caches
	// its result. Concurrent misses on one key share a single fetch. Errors
	// from fetchFn are returned and nothing is cached.
	//
	// Parameters:
	//   - ctx: Context passed to fetchFn
	//   - key: The cache key
	//   - ttl: Lifetime of a fetched entry
	//   - fetchFn: Loads the value on a miss
	//
	// Returns:
	//   - The cached or fetched value
	//   - The error returned by fetchFn
	GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// ItemCount returns the number of entries, possibly including expired
	// ones not yet purged.
	ItemCount(ctx context.Context) (int, error)
}
