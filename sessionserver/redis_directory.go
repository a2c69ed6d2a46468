package sessionserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces directory keys in Redis.
const DefaultRedisPrefix = "screenary:session:"

// RedisDirectory shares records between server nodes through Redis. Records
// are stored as JSON; registration uses SETNX so two nodes can never claim
// the same key.
type RedisDirectory struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisDirectory creates a Redis-backed directory.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	dir := NewRedisDirectory(client, DefaultRedisPrefix, 12*time.Hour)
func NewRedisDirectory(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisDirectory {
	return &RedisDirectory{client: client, prefix: prefix, ttl: ttl}
}

// Register stores rec as JSON with SETNX, so an existing key is never
// overwritten.
//
// Returns:
//   - ErrKeyExists if another session holds rec.Key
//   - A wrapped redis error otherwise
func (d *RedisDirectory) Register(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	ok, err := d.client.SetNX(ctx, d.prefix+rec.Key, data, d.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx error: %w", err)
	}

	if !ok {
		return fmt.Errorf("register %q: %w", rec.Key, ErrKeyExists)
	}

	return nil
}

// Lookup fetches and decodes the record for key.
func (d *RedisDirectory) Lookup(ctx context.Context, key string) (Record, error) {
	val, err := d.client.Get(ctx, d.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrSessionNotFound
	}

	if err != nil {
		return Record{}, fmt.Errorf("redis get error: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return rec, nil
}

// Remove deletes the record for key.
func (d *RedisDirectory) Remove(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, d.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}

	return nil
}

// Count scans the key prefix; it is linear in the number of sessions.
func (d *RedisDirectory) Count(ctx context.Context) (int, error) {
	count := 0
	iter := d.client.Scan(ctx, 0, d.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}

	if err := iter.Err(); err != nil {
		return count, fmt.Errorf("failed to scan keys: %w", err)
	}

	return count, nil
}
