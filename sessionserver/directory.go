package sessionserver

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("sessionserver: session not found")
	ErrKeyExists       = errors.New("sessionserver: session key already registered")
)

// Record is the directory entry for a live session. It is what a joining
// client's key resolves to.
type Record struct {
	ID                uint32    `json:"id"`
	Key               string    `json:"key"`
	Owner             string    `json:"owner"`
	PasswordProtected bool      `json:"password_protected"`
	Node              string    `json:"node,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Directory maps session keys to records. Implementations must be safe for
// concurrent use.
type Directory interface {
	// Register stores rec under rec.Key.
	//
	// Returns:
	//   - ErrKeyExists if the key is already registered
	Register(ctx context.Context, rec Record) error

	// Lookup returns the record for key.
	//
	// Returns:
	//   - ErrSessionNotFound if no record exists
	Lookup(ctx context.Context, key string) (Record, error)

	// Remove deletes the record for key. Removing an unknown key is not an
	// error.
	Remove(ctx context.Context, key string) error

	// Count returns the number of registered sessions.
	Count(ctx context.Context) (int, error)
}
