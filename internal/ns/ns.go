// Package ns defines the namespace contract: five frozen operations over
// path-addressed scrolls, a closed failure taxonomy, and the watch
// subscription machinery shared by every backend.
package ns

import (
	"github.com/obiverse/nine-s/internal/scroll"
)

// Namespace is the single interface every storage variant implements:
// memory, file, sqlite, store, kernel, and the wire client all expose
// exactly these operations.
//
// Read returns (nil, nil) for a path that has never been written; absence
// is not an error. Reading a tombstoned scroll returns it with
// Metadata.Deleted set. Close is idempotent and terminal: every
// subsequent operation fails with CodeClosed.
type Namespace interface {
	// Read returns the current scroll at path, or nil if absent.
	Read(path string) (*scroll.Scroll, error)
	// Write persists data at path, stamping version, timestamps, and
	// hash, and returns the persisted scroll.
	Write(path string, data map[string]any) (*scroll.Scroll, error)
	// WriteScroll is Write preserving the caller's type and metadata
	// hints. Version, hash, and updatedAt are always recomputed; a
	// caller-supplied createdAt is honored only when no prior scroll
	// exists at the key.
	WriteScroll(s *scroll.Scroll) (*scroll.Scroll, error)
	// List returns every current key under prefix, in lexical order.
	List(prefix string) ([]string, error)
	// Watch subscribes to scrolls persisted at keys matching pattern.
	Watch(pattern string) (*Subscription, error)
	// Close releases all resources and cancels every subscription.
	Close() error
}
