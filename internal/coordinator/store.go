package coordinator

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by read operations when the key does not exist
// or has expired.
var ErrNotFound = errors.New("coordinator: key not found")

// Store is the typed facade over the coordination store. Every cross-worker
// interaction of the proxy core goes through this interface (state, locks,
// chunks, client membership); control events ride the event bus instead.
//
// All operations are best-effort from the caller's point of view: the
// implementation retries transient failures with backoff, and callers must
// tolerate errors without crashing the worker.
type Store interface {
	// Hashes with a whole-key TTL. Each hash has a fixed schema; there is
	// deliberately no generic key-value bag here.
	HashSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	HashDel(ctx context.Context, key string, fields ...string) error

	// AtomicAcquire sets key=value only if the key is absent. Returns true
	// when this caller won the key.
	AtomicAcquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Renew extends the TTL only while the key still holds value
	// (compare-and-renew). Returns false when the key expired or was taken
	// by someone else.
	Renew(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Release deletes the key only while it still holds value.
	Release(ctx context.Context, key, value string) (bool, error)

	// Get reads a plain string key.
	Get(ctx context.Context, key string) (string, error)

	// Set writes a plain string key with a TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Sets (unordered membership).
	SetAdd(ctx context.Context, key string, members ...string) error
	SetRemove(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetCard(ctx context.Context, key string) (int64, error)

	// Blobs with TTL (chunk payloads).
	BlobPut(ctx context.Context, key string, value []byte, ttl time.Duration) error
	BlobGet(ctx context.Context, key string) ([]byte, error)

	// Scan returns all keys matching the given glob pattern.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Expire refreshes the TTL of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes keys unconditionally.
	Delete(ctx context.Context, keys ...string) error

	Close() error
}
