// Package storage defines the durable, ordered key->bytes store piChain's
// persisted state needs, plus the in-memory stand-in used by tests. The
// core only ever depends on the Storage interface; which concrete
// implementation backs it is an external, swappable concern — any ordered
// key->bytes store suffices.
package storage

import "github.com/pkg/errors"

// Namespaces partition the key space by what they hold.
const (
	NamespaceBlocks = "blocks"
	NamespaceMeta   = "meta"
	NamespacePaxos  = "paxos"
)

// Well-known keys inside NamespaceMeta.
const (
	KeyHead      = "head"
	KeyCommitted = "committed"
)

// ErrNotFound is returned by Get when the key is absent from the namespace.
var ErrNotFound = errors.New("storage: key not found")

// Storage is an ordered, namespaced key->bytes store. Writes to
// meta/committed must fsync before the caller acknowledges a commit to the
// client; PutSync exists for exactly that call site.
type Storage interface {
	// Get reads a value. Returns ErrNotFound if the namespace/key pair is
	// absent.
	Get(namespace, key string) ([]byte, error)

	// Put writes a value without forcing it to stable storage immediately.
	Put(namespace, key string, value []byte) error

	// PutSync writes a value and fsyncs before returning, for the
	// meta/committed durability fence.
	PutSync(namespace, key string, value []byte) error

	// Iterate calls fn for every key/value pair in namespace in key order.
	// Iteration stops early if fn returns false.
	Iterate(namespace string, fn func(key string, value []byte) bool) error

	// Close releases any underlying file handles.
	Close() error
}
