// Package patch implements the history engine's diff format: RFC 6902
// operations over RFC 6901 pointers, a structural diff, and a
// deterministic apply that produces version-stamped scrolls.
package patch

import (
	"errors"
	"sort"

	"github.com/obiverse/nine-s/internal/scroll"
)

// Apply failure modes.
var (
	ErrPathNotFound   = errors.New("patch: path not found")
	ErrTypeMismatch   = errors.New("patch: type mismatch")
	ErrTestFailed     = errors.New("patch: test failed")
	ErrInvalidPointer = errors.New("patch: invalid pointer")
)

// OpKind tags an RFC 6902 operation.
type OpKind string

// The six RFC 6902 operations.
const (
	OpAdd     OpKind = "add"
	OpRemove  OpKind = "remove"
	OpReplace OpKind = "replace"
	OpMove    OpKind = "move"
	OpCopy    OpKind = "copy"
	OpTest    OpKind = "test"
)

// Op is a single patch operation.
type Op struct {
	Kind  OpKind `json:"op"`
	Path  string `json:"path"`
	From  string `json:"from,omitempty"`
	Value any    `json:"value,omitempty"`
}

// Patch records the transition between two scroll states at a key.
// Parent is the prior scroll's hash ("" for the genesis patch), Hash the
// resulting scroll's hash, and Seq a per-key monotone counter starting
// at 1. Patch records are append-only.
type Patch struct {
	Key       string `json:"key"`
	Ops       []Op   `json:"ops"`
	Parent    string `json:"parent,omitempty"`
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp"`
	Seq       int    `json:"seq"`
}

// Diff computes the patch that transforms prior into next. A nil prior
// yields the genesis patch: a single replace of the root document.
// Mappings diff recursively; lists that differ are replaced whole.
func Diff(prior, next *scroll.Scroll, now int64, seq int) *Patch {
	p := &Patch{
		Key:       next.Key,
		Hash:      next.Metadata.Hash,
		Timestamp: now,
		Seq:       seq,
	}
	if prior == nil {
		p.Ops = []Op{{Kind: OpReplace, Path: "", Value: scroll.CopyData(next.Data)}}
		return p
	}
	p.Parent = prior.Metadata.Hash
	p.Ops = diffValue(Pointer{}, scroll.CopyData(prior.Data), scroll.CopyData(next.Data))
	return p
}

func diffValue(at Pointer, prior, next any) []Op {
	if scroll.DeepEqual(prior, next) {
		return nil
	}
	pm, pok := prior.(map[string]any)
	nm, nok := next.(map[string]any)
	if pok && nok {
		return diffMap(at, pm, nm)
	}
	return []Op{{Kind: OpReplace, Path: at.String(), Value: next}}
}

func diffMap(at Pointer, prior, next map[string]any) []Op {
	keys := make([]string, 0, len(prior)+len(next))
	seen := map[string]struct{}{}
	for k := range prior {
		keys = append(keys, k)
		seen[k] = struct{}{}
	}
	for k := range next {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var ops []Op
	for _, k := range keys {
		pv, inPrior := prior[k]
		nv, inNext := next[k]
		child := at.Child(k)
		switch {
		case !inNext:
			ops = append(ops, Op{Kind: OpRemove, Path: child.String()})
		case !inPrior:
			ops = append(ops, Op{Kind: OpAdd, Path: child.String(), Value: nv})
		default:
			ops = append(ops, diffValue(child, pv, nv)...)
		}
	}
	return ops
}

// Verify reports whether p chains off prior: a nil prior pairs with a
// genesis patch, otherwise the prior hash must equal the patch parent.
func Verify(prior *scroll.Scroll, p *Patch) bool {
	if prior == nil {
		return p.Parent == ""
	}
	return prior.Metadata.Hash == p.Parent
}

// Apply transforms s by p and returns a new scroll with the same key and
// type, the transformed data, and the patch's sequence number as its
// version. Ops run in order over a deep copy; the input is never
// mutated. Replace requires the target to exist.
func Apply(s *scroll.Scroll, p *Patch) (*scroll.Scroll, error) {
	return apply(s, p, false)
}

// Replay is Apply with replace acting as set (creating missing
// containers). The store's time-travel read replays surviving patches
// from an empty scroll, where strict replace semantics would reject the
// first op after retention dropped the genesis patch.
func Replay(s *scroll.Scroll, p *Patch) (*scroll.Scroll, error) {
	return apply(s, p, true)
}

func apply(s *scroll.Scroll, p *Patch, lenient bool) (*scroll.Scroll, error) {
	var doc any = scroll.CopyData(s.Data)
	for _, op := range p.Ops {
		next, err := applyOp(doc, op, lenient)
		if err != nil {
			return nil, err
		}
		doc = next
	}
	data, ok := doc.(map[string]any)
	if !ok {
		return nil, ErrTypeMismatch
	}
	out := s.Clone()
	out.Data = data
	out.Metadata.Version = p.Seq
	return out, nil
}
