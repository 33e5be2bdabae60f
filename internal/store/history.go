package store

import (
	"github.com/obiverse/nine-s/internal/anchor"
	"github.com/obiverse/nine-s/internal/ns"
	"github.com/obiverse/nine-s/internal/patch"
	"github.com/obiverse/nine-s/internal/scroll"
)

// recordPatch appends the diff for a completed write to the key's patch
// log and enforces ring-buffer retention. The patch directory is the
// sequence counter: seq is one past the last retained patch's seq, so
// ring-buffer trimming never reuses a sequence number. A log pruned to
// empty restarts at one.
func (s *Store) recordPatch(prior, next *scroll.Scroll) {
	log := s.patches[next.Key]
	seq := 1
	if n := len(log); n > 0 {
		seq = log[n-1].Seq + 1
	}
	log = append(log, patch.Diff(prior, next, s.clock(), seq))
	if over := len(log) - s.maxPatches; over > 0 {
		log = append([]*patch.Patch(nil), log[over:]...)
	}
	s.patches[next.Key] = log
}

// History returns the retained patch log for path, oldest first.
func (s *Store) History(path string) ([]*patch.Patch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ns.E(ns.CodeClosed, "store is closed")
	}
	return append([]*patch.Patch(nil), s.patches[path]...), nil
}

// StateAt replays retained patches with sequence numbers up to seq,
// starting from an empty scroll at path, and returns the reconstructed
// state. A key with no history is not found; a seq outside the recorded
// range is an internal fault.
func (s *Store) StateAt(path string, seq int) (*scroll.Scroll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ns.E(ns.CodeClosed, "store is closed")
	}
	log := s.patches[path]
	if len(log) == 0 {
		return nil, ns.Errorf(ns.CodeNotFound, "no history for %q", path)
	}
	if seq <= 0 || seq > log[len(log)-1].Seq {
		return nil, ns.Errorf(ns.CodeInternal, "seq %d out of range for %q", seq, path)
	}
	state := &scroll.Scroll{Key: path, Data: map[string]any{}}
	for _, p := range log {
		if p.Seq > seq {
			break
		}
		next, err := patch.Replay(state, p)
		if err != nil {
			return nil, ns.Errorf(ns.CodeInternal, "replay %q seq %d: %w", path, p.Seq, err)
		}
		state = next
	}
	return state, nil
}

// Anchor captures the current scroll at path as a checkpoint, appends it
// to the key's anchor list, and enforces ring-buffer retention.
func (s *Store) Anchor(path, label string) (*anchor.Anchor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ns.E(ns.CodeClosed, "store is closed")
	}
	sc, err := s.readLocked(path)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, ns.Errorf(ns.CodeNotFound, "nothing to anchor at %q", path)
	}
	a, err := anchor.New(sc, label, s.clock(), s.rand)
	if err != nil {
		return nil, ns.Errorf(ns.CodeInternal, "anchor %q: %w", path, err)
	}
	list := append(s.anchors[path], a)
	if over := len(list) - s.maxAnchors; over > 0 {
		list = append([]*anchor.Anchor(nil), list[over:]...)
	}
	s.anchors[path] = list
	return a, nil
}

// Anchors returns the retained anchors for path, oldest first.
func (s *Store) Anchors(path string) ([]*anchor.Anchor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ns.E(ns.CodeClosed, "store is closed")
	}
	return append([]*anchor.Anchor(nil), s.anchors[path]...), nil
}

// Restore writes the scroll captured by the anchor back through the
// normal write pipeline, producing a fresh version bump. The anchor's
// integrity is verified first.
func (s *Store) Restore(path, anchorID string) (*scroll.Scroll, error) {
	s.mu.Lock()
	var found *anchor.Anchor
	for _, a := range s.anchors[path] {
		if a.ID == anchorID {
			found = a
			break
		}
	}
	s.mu.Unlock()
	if found == nil {
		return nil, ns.Errorf(ns.CodeNotFound, "anchor %q not found at %q", anchorID, path)
	}
	if !found.Verify() {
		return nil, ns.Errorf(ns.CodeInternal, "anchor %q failed integrity check", anchorID)
	}
	restored := found.Scroll.Clone()
	restored.Key = path
	return s.WriteScroll(restored)
}

// PruneHistory trims the retained patches and anchors for path to the
// given sizes. A negative size leaves that log untouched.
func (s *Store) PruneHistory(path string, keepPatches, keepAnchors int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ns.E(ns.CodeClosed, "store is closed")
	}
	s.pruneLocked(path, keepPatches, keepAnchors)
	return nil
}

// PruneAllHistory trims every key's history to the given sizes.
func (s *Store) PruneAllHistory(keepPatches, keepAnchors int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ns.E(ns.CodeClosed, "store is closed")
	}
	seen := map[string]struct{}{}
	for path := range s.patches {
		seen[path] = struct{}{}
	}
	for path := range s.anchors {
		seen[path] = struct{}{}
	}
	for path := range seen {
		s.pruneLocked(path, keepPatches, keepAnchors)
	}
	return nil
}

func (s *Store) pruneLocked(path string, keepPatches, keepAnchors int) {
	if keepPatches >= 0 {
		if log := s.patches[path]; len(log) > keepPatches {
			s.patches[path] = append([]*patch.Patch(nil), log[len(log)-keepPatches:]...)
		}
	}
	if keepAnchors >= 0 {
		if list := s.anchors[path]; len(list) > keepAnchors {
			s.anchors[path] = append([]*anchor.Anchor(nil), list[len(list)-keepAnchors:]...)
		}
	}
}
