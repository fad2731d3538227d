package storage

import "context"

// KVStore is the local persistent key-value store. Values are serialized
// JSON text; the replication engine keeps its own bookkeeping in keys that
// start with "__".
type KVStore interface {
	// Get returns the value stored under key
	// Returns ErrKeyNotFound if the key is absent
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key
	Set(ctx context.Context, key, value string) error

	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// Contains reports whether key is present
	Contains(ctx context.Context, key string) (bool, error)

	// Keys returns every stored key in byte order
	Keys(ctx context.Context) ([]string, error)

	// ClearAll removes every key
	ClearAll(ctx context.Context) error
}
