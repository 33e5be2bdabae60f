// Package memns provides the in-RAM namespace: the baseline semantics
// every other backend is measured against.
package memns

import (
	"sort"
	"sync"
	"time"

	"github.com/obiverse/nine-s/internal/ns"
	"github.com/obiverse/nine-s/internal/nspath"
	"github.com/obiverse/nine-s/internal/scroll"
)

// Namespace is a memory-backed scroll store. It has no I/O failure
// modes; the only errors it surfaces are invalid paths, the watcher cap,
// and operations after close.
type Namespace struct {
	mu      sync.Mutex
	scrolls map[string]*scroll.Scroll
	hub     *ns.Hub
	clock   func() int64
	closed  bool
}

// Option configures a memory namespace.
type Option func(*Namespace)

// WithClock injects the millisecond-epoch clock used to stamp writes.
func WithClock(clock func() int64) Option {
	return func(n *Namespace) { n.clock = clock }
}

// WithMaxWatchers overrides the watcher cap.
func WithMaxWatchers(max int) Option {
	return func(n *Namespace) { n.hub = ns.NewHub(max) }
}

// New creates an empty memory namespace.
func New(opts ...Option) *Namespace {
	n := &Namespace{
		scrolls: make(map[string]*scroll.Scroll),
		hub:     ns.NewHub(0),
		clock:   func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var _ ns.Namespace = (*Namespace)(nil)

// Read returns the scroll at path, or nil when absent.
func (n *Namespace) Read(path string) (*scroll.Scroll, error) {
	if err := nspath.Validate(path); err != nil {
		return nil, ns.Errorf(ns.CodeInvalidPath, "read %q: %w", path, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ns.E(ns.CodeClosed, "namespace is closed")
	}
	sc, ok := n.scrolls[path]
	if !ok {
		return nil, nil
	}
	return sc.Clone(), nil
}

// Write persists data at path and notifies matching watchers.
func (n *Namespace) Write(path string, data map[string]any) (*scroll.Scroll, error) {
	return n.WriteScroll(&scroll.Scroll{Key: path, Data: data})
}

// WriteScroll persists s, recomputing version, hash, and updatedAt.
func (n *Namespace) WriteScroll(s *scroll.Scroll) (*scroll.Scroll, error) {
	if err := nspath.Validate(s.Key); err != nil {
		return nil, ns.Errorf(ns.CodeInvalidPath, "write %q: %w", s.Key, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ns.E(ns.CodeClosed, "namespace is closed")
	}
	stamped, err := scroll.Stamp(n.scrolls[s.Key], s, n.clock())
	if err != nil {
		return nil, ns.Errorf(ns.CodeInternal, "stamp %q: %w", s.Key, err)
	}
	n.scrolls[s.Key] = stamped
	// Subscribers get their own copy so they can never reach the stored
	// value through an emitted scroll.
	n.hub.Publish(stamped.Clone())
	return stamped.Clone(), nil
}

// List returns every key under prefix in lexical order.
func (n *Namespace) List(prefix string) ([]string, error) {
	if err := nspath.Validate(prefix); err != nil {
		return nil, ns.Errorf(ns.CodeInvalidPath, "list %q: %w", prefix, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ns.E(ns.CodeClosed, "namespace is closed")
	}
	keys := make([]string, 0, len(n.scrolls))
	for k := range n.scrolls {
		if nspath.IsUnder(prefix, k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch subscribes to writes at keys matching pattern.
func (n *Namespace) Watch(pattern string) (*ns.Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ns.E(ns.CodeClosed, "namespace is closed")
	}
	return n.hub.Subscribe(pattern)
}

// Close discards all state and terminates every subscription. Idempotent.
func (n *Namespace) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	n.hub.Close()
	n.scrolls = nil
	return nil
}
