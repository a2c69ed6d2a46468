package sessionserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cyberinferno/screenary/cacher"
)

// MemoryDirectory keeps records in process memory. Entries expire after the
// configured TTL.
type MemoryDirectory struct {
	records *cacher.MemoryCacher[Record]
}

// NewMemoryDirectory creates an in-memory directory.
//
// Parameters:
//   - ttl: How long a record lives (use cache.NoExpiration to keep records until removed)
//   - cleanupInterval: Interval at which expired records are purged
//
// Returns:
//   - A new MemoryDirectory
func NewMemoryDirectory(ttl, cleanupInterval time.Duration) *MemoryDirectory {
	return &MemoryDirectory{records: cacher.NewMemoryCacher[Record](ttl, cleanupInterval)}
}

// Register stores rec unless its key is already taken.
func (d *MemoryDirectory) Register(ctx context.Context, rec Record) error {
	err := d.records.Add(ctx, rec.Key, rec, 0)
	if errors.Is(err, cacher.ErrKeyExists) {
		return fmt.Errorf("register %q: %w", rec.Key, ErrKeyExists)
	}

	return err
}

// Lookup returns the record registered under key.
func (d *MemoryDirectory) Lookup(ctx context.Context, key string) (Record, error) {
	rec, found, err := d.records.Get(ctx, key)
	if err != nil {
		return Record{}, err
	}

	if !found {
		return Record{}, ErrSessionNotFound
	}

	return rec, nil
}

// Remove deletes the record for key.
func (d *MemoryDirectory) Remove(ctx context.Context, key string) error {
	return d.records.Delete(ctx, key)
}

// Count returns the number of records held, expired ones included until
// they are purged.
func (d *MemoryDirectory) Count(ctx context.Context) (int, error) {
	return d.records.ItemCount(ctx)
}
