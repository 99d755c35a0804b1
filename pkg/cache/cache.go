// Package cache defines the completion store used by the gateway and the
// helpers shared by its backends.
package cache

import (
	"context"
	"time"

	"github.com/pario-ai/promptgate/pkg/models"
)

// Store is a key/value store with per-entry expiry. Expired entries must be
// reported as absent even if they are still physically present.
type Store interface {
	// Get returns the value for key; ok is false when absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Put writes value under key for ttl. Writes for the same key are last-writer-wins.
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	// Close releases the backend.
	Close() error
}

// Statter reports backend statistics.
type Statter interface {
	Stats(ctx context.Context) (models.CacheStats, error)
}

// Clearer removes every entry.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Pinger checks that a remote backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Purger deletes physically present but expired entries.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}
