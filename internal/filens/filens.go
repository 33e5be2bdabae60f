// Package filens provides the file-backed namespace: one JSON document
// per scroll under <root>/_scrolls, written atomically.
package filens

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/obiverse/nine-s/internal/ns"
	"github.com/obiverse/nine-s/internal/nspath"
	"github.com/obiverse/nine-s/internal/scroll"
)

// scrollsDir is the subdirectory of the root that holds scroll documents.
const scrollsDir = "_scrolls"

// Namespace is a file-system-backed scroll store. The key /a/b/c maps to
// <root>/_scrolls/a/b/c.json with separators rewritten for the host.
// Directories are created lazily; each write replaces the whole file via
// temp + fsync + rename.
type Namespace struct {
	root string // absolute path to the store root

	mu     sync.Mutex
	hub    *ns.Hub
	clock  func() int64
	closed bool
}

// Option configures a file namespace.
type Option func(*Namespace)

// WithClock injects the millisecond-epoch clock used to stamp writes.
func WithClock(clock func() int64) Option {
	return func(n *Namespace) { n.clock = clock }
}

// WithMaxWatchers overrides the watcher cap.
func WithMaxWatchers(max int) Option {
	return func(n *Namespace) { n.hub = ns.NewHub(max) }
}

// New creates a file namespace rooted at dir. The root directory must
// already exist; the _scrolls subtree is created on demand.
func New(root string, opts ...Option) (*Namespace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("filens: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("filens: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("filens: root is not a directory: %s", abs)
	}
	n := &Namespace{
		root:  abs,
		hub:   ns.NewHub(0),
		clock: func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

var _ ns.Namespace = (*Namespace)(nil)

// Root returns the absolute store root.
func (n *Namespace) Root() string { return n.root }

// filePath maps a validated key to its on-disk location. Keys are
// already restricted to [A-Za-z0-9_.-] segments, so the result cannot
// escape the root; the prefix check guards against future grammar drift.
func (n *Namespace) filePath(key string) (string, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(key, "/"))
	abs := filepath.Join(n.root, scrollsDir, rel+".json")
	base := filepath.Join(n.root, scrollsDir)
	if abs != base && !strings.HasPrefix(abs, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("filens: key escapes root: %s", key)
	}
	return abs, nil
}

// Read returns the scroll at path, or nil when no file exists. A file
// that exists but fails to parse is an internal error, never absence.
func (n *Namespace) Read(path string) (*scroll.Scroll, error) {
	if err := nspath.Validate(path); err != nil {
		return nil, ns.Errorf(ns.CodeInvalidPath, "read %q: %w", path, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ns.E(ns.CodeClosed, "namespace is closed")
	}
	return n.readLocked(path)
}

func (n *Namespace) readLocked(path string) (*scroll.Scroll, error) {
	abs, err := n.filePath(path)
	if err != nil {
		return nil, ns.Errorf(ns.CodeInvalidPath, "%v", err)
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, ns.Errorf(ns.CodeInternal, "read %q: %w", path, err)
	}
	var sc scroll.Scroll
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, ns.Errorf(ns.CodeInternal, "parse %q: %w", path, err)
	}
	return &sc, nil
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
	prior, err := n.readLocked(s.Key)
	if err != nil {
		return nil, err
	}
	stamped, err := scroll.Stamp(prior, s, n.clock())
	if err != nil {
		return nil, ns.Errorf(ns.CodeInternal, "stamp %q: %w", s.Key, err)
	}
	doc, err := json.Marshal(stamped)
	if err != nil {
		return nil, ns.Errorf(ns.CodeInternal, "encode %q: %w", s.Key, err)
	}
	if err := n.writeFile(stamped.Key, doc); err != nil {
		return nil, ns.Errorf(ns.CodeInternal, "persist %q: %w", s.Key, err)
	}
	n.hub.Publish(stamped)
	return stamped.Clone(), nil
}

// writeFile atomically writes content: tmp file → fsync → rename.
func (n *Namespace) writeFile(key string, content []byte) error {
	abs, err := n.filePath(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".nine-s-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	success = true
	return nil
}

// List walks the _scrolls subtree and returns every key under prefix in
// lexical order.
func (n *Namespace) List(prefix string) ([]string, error) {
	if err := nspath.Validate(prefix); err != nil {
		return nil, ns.Errorf(ns.CodeInvalidPath, "list %q: %w", prefix, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ns.E(ns.CodeClosed, "namespace is closed")
	}
	base := filepath.Join(n.root, scrollsDir)
	var keys []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		rel, relErr := filepath.Rel(base, p)
		if relErr != nil {
			return relErr
		}
		key := "/" + filepath.ToSlash(strings.TrimSuffix(rel, ".json"))
		if nspath.IsUnder(prefix, key) {
			keys = append(keys, key)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, ns.Errorf(ns.CodeInternal, "list %q: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch subscribes to writes at keys matching pattern. Notifications are
// driven by this namespace's own writes (plus the optional Mirror).
func (n *Namespace) Watch(pattern string) (*ns.Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ns.E(ns.CodeClosed, "namespace is closed")
	}
	return n.hub.Subscribe(pattern)
}

// Close terminates every subscription. Idempotent; files stay on disk.
func (n *Namespace) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	n.hub.Close()
	return nil
}

// publishExternal fans out a scroll that appeared on disk without going
// through WriteScroll. Used by the Mirror.
func (n *Namespace) publishExternal(sc *scroll.Scroll) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.hub.Publish(sc)
}
