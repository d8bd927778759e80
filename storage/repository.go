// Package storage defines the key-value store abstraction that session state
// is persisted in.
//
// Backends must expire entries natively: a value written with a positive TTL
// stops being visible once that TTL elapses, reads never extend it, and no
// application-level expiry check is expected from callers.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is absent or has expired.
	ErrNotFound = errors.New("key not found")
	// ErrUnavailable wraps transport or backend failures.
	ErrUnavailable = errors.New("store unavailable")
)

// Store is a TTL-aware key-value store. Single-key operations are atomic;
// no multi-key transaction is assumed.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A ttl of zero or less never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)
	// Close releases backend resources.
	Close() error
}
