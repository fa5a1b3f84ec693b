// Package store provides shared key-value substrates for cross-context
// broadcasting. A Store is a small bulletin board: execution contexts
// write values under well-known keys and watch those keys for writes
// made by other contexts. Delivery is at-least-once and last-write-wins;
// a watcher may observe writes made by its own process.
package store

import (
	"context"
	"errors"
)

// Store defines the interface for shared key-value backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// Set writes value under key, replacing any previous value.
	// Watchers of key are notified after the write lands. Implementations
	// may also notify watchers registered by the writing process.
	Set(ctx context.Context, key string, value []byte) error

	// Get retrieves the current value for key.
	// Returns (nil, nil) if the key has never been written.
	Get(ctx context.Context, key string) ([]byte, error)

	// Watch registers fn to run whenever the value under key changes.
	// fn receives the new value and must not block; long work should be
	// handed off. The returned cancel removes the registration and is
	// safe to call more than once.
	Watch(key string, fn func(value []byte)) (cancel func())

	// Close releases resources held by the store. Watchers registered
	// on a closed store are never invoked.
	Close() error
}

// ErrClosed is returned when operations are attempted on a closed store.
var ErrClosed = errors.New("store is closed")
