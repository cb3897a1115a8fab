// Package kv provides the opaque key/value namespace that jobs, run state,
// run logs, and run indexes are persisted in. Values carry an optional TTL;
// expired entries read as absent and are physically removed by Sweep.
package kv

import (
	"context"
	"time"
)

// Store is the key/value contract. Writes are idempotent rewrites.
type Store interface {
	// Get returns the value for key, or ok=false when absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Put writes the value. ttl<=0 stores without expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns keys with the given prefix in ascending order,
	// excluding expired entries.
	List(ctx context.Context, prefix string) ([]string, error)

	// Sweep physically removes expired entries, returning how many.
	Sweep(ctx context.Context) (int64, error)
}
