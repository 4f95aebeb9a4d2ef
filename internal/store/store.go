// Package store provides the key-value persistence layer for validation
// jobs. Three logical keyspaces back the pipeline: list snippets (hashes),
// list data blobs (strings) and validation job responses (lists). The
// workflow engine's queue and step markers share the responses keyspace.
package store

import (
	"context"
	"errors"
	"time"
)

// ThirtyDaysTTL is the uniform expiry applied to every job key at write time.
const ThirtyDaysTTL = 30 * 24 * time.Hour

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("store: key not found")

// Store is the capability surface the pipeline needs from a keyspace.
// RedisStore is the production implementation; MemoryStore backs local
// development and tests.
type Store interface {
	// GetHash returns all fields of a hash key. A missing key yields an
	// empty map, matching redis HGETALL.
	GetHash(ctx context.Context, key string) (map[string]string, error)
	// SetHash writes the given fields into a hash key.
	SetHash(ctx context.Context, key string, fields map[string]string) error

	// Get returns a string value. Returns ErrNotFound for a missing key.
	Get(ctx context.Context, key string) (string, error)
	// Set writes a string value, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Append pushes a value onto the tail of a list key.
	Append(ctx context.Context, key, value string) error
	// Pop removes and returns the head of a list key. Returns ErrNotFound
	// when the list is empty or missing.
	Pop(ctx context.Context, key string) (string, error)
	// Range returns the list elements in [start, stop], redis LRANGE
	// semantics (stop == -1 means the end of the list).
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)
	// PopPush atomically moves the head of src onto the tail of dst and
	// returns it. Returns ErrNotFound when src is empty or missing.
	PopPush(ctx context.Context, src, dst string) (string, error)
	// Remove deletes the first occurrence of value from a list key.
	Remove(ctx context.Context, key, value string) error

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// Expire sets a TTL on a key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Keys returns the keys matching a glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Close releases the underlying connections.
	Close() error
}
