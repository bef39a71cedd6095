// Package kv defines the key-value persistence boundary for the inventory.
//
// The inventory log stores its whole snapshot under one well-known key, so the
// boundary is small: string keys, string values, get/set/remove, plus an
// atomic read-modify-write (Update).
//
// Implementations:
//   - kv/memory: process-local map for tests and throwaway runs
//   - kv/sqlite: single-file SQLite database (default)
//   - kv/redis: shared Redis instance for multi-station setups
package kv

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kv: store closed")

// UpdateFunc computes the new value for a key from its current value. ok is
// false when the key is absent. Returning an error aborts the update and
// leaves the stored value unchanged.
type UpdateFunc func(current string, ok bool) (string, error)

// Store is a string key-value store.
type Store interface {
	// Get returns the value for key. The bool is false when the key is absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Update reads key, passes it to fn and stores fn's result. No other
	// write to key lands between the read and the write. fn may run more
	// than once when the store retries a conflicting update.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases the store's resources.
	Close() error
}
