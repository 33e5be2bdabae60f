// Package kernel implements the mount-table composite namespace: it
// routes every operation to a mounted backend by longest-prefix match,
// translating paths inbound and restoring them on results.
package kernel

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/obiverse/nine-s/internal/ns"
	"github.com/obiverse/nine-s/internal/nspath"
	"github.com/obiverse/nine-s/internal/scroll"
)

type mount struct {
	path string
	ns   ns.Namespace
}

// Kernel routes the five operations across a table of mounted
// namespaces. Each mounted namespace keeps its own ordering; the kernel
// imposes no global order across mounts.
type Kernel struct {
	mu     sync.RWMutex
	mounts []mount // sorted by descending path length, so the longest match is first
	closed bool
}

// New creates a kernel with an empty mount table.
func New() *Kernel {
	return &Kernel{}
}

var _ ns.Namespace = (*Kernel)(nil)

// NormalizeMount canonicalizes a mount path: leading slash ensured,
// trailing slash stripped except for root.
func NormalizeMount(path string) string {
	if path == "" {
		return nspath.Root
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	return path
}

// Mount attaches target at path, replacing any namespace already mounted
// there.
func (k *Kernel) Mount(path string, target ns.Namespace) error {
	path = NormalizeMount(path)
	if err := nspath.Validate(path); err != nil {
		return ns.Errorf(ns.CodeInvalidPath, "mount %q: %w", path, err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ns.E(ns.CodeClosed, "kernel is closed")
	}
	for i, m := range k.mounts {
		if m.path == path {
			k.mounts[i].ns = target
			return nil
		}
	}
	k.mounts = append(k.mounts, mount{path: path, ns: target})
	sort.SliceStable(k.mounts, func(i, j int) bool {
		return len(k.mounts[i].path) > len(k.mounts[j].path)
	})
	return nil
}

// Unmount detaches the namespace at path. The detached namespace is not
// closed; the caller decides its fate.
func (k *Kernel) Unmount(path string) error {
	path = NormalizeMount(path)
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ns.E(ns.CodeClosed, "kernel is closed")
	}
	for i, m := range k.mounts {
		if m.path == path {
			k.mounts = append(k.mounts[:i], k.mounts[i+1:]...)
			return nil
		}
	}
	return ns.Errorf(ns.CodeNotFound, "no mount at %q", path)
}

// Mounts returns the mount paths, longest first.
func (k *Kernel) Mounts() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, len(k.mounts))
	for i, m := range k.mounts {
		out[i] = m.path
	}
	return out
}

// resolve finds the longest mount containing p and returns the target
// namespace, the translated local path, and the mount path.
func (k *Kernel) resolve(p string) (ns.Namespace, string, string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil, "", "", ns.E(ns.CodeClosed, "kernel is closed")
	}
	for _, m := range k.mounts {
		if !nspath.IsUnder(m.path, p) {
			continue
		}
		switch {
		case m.path == nspath.Root:
			return m.ns, p, m.path, nil
		case p == m.path:
			return m.ns, nspath.Root, m.path, nil
		default:
			return m.ns, p[len(m.path):], m.path, nil
		}
	}
	return nil, "", "", ns.Errorf(ns.CodeNotFound, "no mount for %q", p)
}

// restore maps a local path emitted by a mounted namespace back to the
// full path seen by kernel callers.
func restore(mountPath, local string) string {
	if mountPath == nspath.Root {
		return local
	}
	if local == nspath.Root {
		return mountPath
	}
	return mountPath + local
}

// Read routes to the owning mount and restores the returned key.
func (k *Kernel) Read(path string) (*scroll.Scroll, error) {
	if err := nspath.Validate(path); err != nil {
		return nil, ns.Errorf(ns.CodeInvalidPath, "read %q: %w", path, err)
	}
	target, local, _, err := k.resolve(path)
	if err != nil {
		return nil, err
	}
	sc, err := target.Read(local)
	if err != nil || sc == nil {
		return nil, err
	}
	return sc.WithKey(path), nil
}

// Write routes to the owning mount and restores the returned key.
func (k *Kernel) Write(path string, data map[string]any) (*scroll.Scroll, error) {
	if err := nspath.Validate(path); err != nil {
		return nil, ns.Errorf(ns.CodeInvalidPath, "write %q: %w", path, err)
	}
	target, local, _, err := k.resolve(path)
	if err != nil {
		return nil, err
	}
	sc, err := target.Write(local, data)
	if err != nil {
		return nil, err
	}
	return sc.WithKey(path), nil
}

// WriteScroll routes to the owning mount, rewriting the scroll key in
// both directions.
func (k *Kernel) WriteScroll(s *scroll.Scroll) (*scroll.Scroll, error) {
	if err := nspath.Validate(s.Key); err != nil {
		return nil, ns.Errorf(ns.CodeInvalidPath, "write %q: %w", s.Key, err)
	}
	target, local, _, err := k.resolve(s.Key)
	if err != nil {
		return nil, err
	}
	sc, err := target.WriteScroll(s.WithKey(local))
	if err != nil {
		return nil, err
	}
	return sc.WithKey(s.Key), nil
}

// List routes to the owning mount and prepends the mount prefix to each
// returned key.
func (k *Kernel) List(prefix string) ([]string, error) {
	if err := nspath.Validate(prefix); err != nil {
		return nil, ns.Errorf(ns.CodeInvalidPath, "list %q: %w", prefix, err)
	}
	target, local, mountPath, err := k.resolve(prefix)
	if err != nil {
		return nil, err
	}
	keys, err := target.List(local)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(keys))
	for i, key := range keys {
		out[i] = restore(mountPath, key)
	}
	return out, nil
}

// Watch subscribes on the owning mount, restoring full keys on every
// emitted scroll before forwarding.
func (k *Kernel) Watch(pattern string) (*ns.Subscription, error) {
	target, local, mountPath, err := k.resolve(pattern)
	if err != nil {
		return nil, err
	}
	inner, err := target.Watch(local)
	if err != nil {
		return nil, err
	}
	return ns.Forward(inner, pattern, func(sc *scroll.Scroll) *scroll.Scroll {
		return sc.WithKey(restore(mountPath, sc.Key))
	}), nil
}

// Close closes every mounted namespace. Idempotent; errors are joined.
func (k *Kernel) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	var errs []error
	for _, m := range k.mounts {
		if err := m.ns.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	k.mounts = nil
	if len(errs) > 0 {
		return ns.Errorf(ns.CodeInternal, "close mounts: %w", errors.Join(errs...))
	}
	return nil
}
