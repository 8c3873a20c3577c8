// Package storage provides the durable key-value store backing the
// metrics engine. Task history, transcripts, the aggregation cache, and
// provenance state are all persisted as whole JSON blobs under
// well-known keys, so per-key atomicity is the only write guarantee the
// rest of the engine depends on.
package storage

import "errors"

// Store is the durable key-value contract the engine runs against.
// All methods must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key. ok is false when the key
	// is absent; err is reserved for storage failures.
	Get(key string) (value []byte, ok bool, err error)

	// Set durably stores value under key, replacing any previous value.
	// The write is atomic per key: a concurrent Get sees either the old
	// value or the new one, never a partial write.
	Set(key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Keys returns every key with the given prefix in lexical order.
	Keys(prefix string) ([]string, error)

	// Close releases underlying resources. Operations after Close
	// return ErrClosed.
	Close() error
}

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("store is closed")
