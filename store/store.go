// Package store defines the shared key-value abstraction used by tagcache.
//
// The store hosts three kinds of keys in one namespace: cached entries
// (raw bytes written through Set), reverse tag indexes and operation tag
// sets (string sets written through Pipeline.SAdd), and whatever keys the
// configured lock client manages on its own. Implementations must be safe
// for concurrent use and byte-for-byte transparent: Get must return exactly
// the []byte previously passed to Set for the same key.
package store

import (
	"context"
	"time"
)

// NoExpiry is the TTL reported by GetWithTTL for keys without an expiry.
const NoExpiry = time.Duration(-1)

// Store is a networked key-value store with TTLs, string sets and prefix
// scans. It is assumed fallible and slow relative to memory; callers treat
// read errors as inconclusive rather than as misses.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// IO/remote errors return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// GetWithTTL is Get plus the key's remaining TTL. Keys without an
	// expiry report NoExpiry.
	GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error)

	// Set stores value under key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SMembers returns the members of the set at key; a missing set is
	// an empty slice, not an error.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Scan returns all keys matching pattern. Only trailing-wildcard
	// patterns ("prefix*") are required to work.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Del removes keys (best-effort; missing keys are not an error).
	Del(ctx context.Context, keys ...string) error

	// Pipelined submits every operation queued by fn as one batched
	// request. The batch is not transactional: partial effects of a
	// failed batch are not rolled back, and failure is reported once
	// for the whole batch.
	Pipelined(ctx context.Context, fn func(Pipeline) error) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Pipeline queues writes inside a Pipelined call.
type Pipeline interface {
	// Set queues a value write. ttl <= 0 means no expiry.
	Set(key string, value []byte, ttl time.Duration)

	// SAdd queues set-membership additions.
	SAdd(key string, members ...string)
}
