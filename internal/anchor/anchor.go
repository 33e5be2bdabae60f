// Package anchor implements immutable checkpoints: a scroll captured by
// value with an integrity hash and a unique id.
package anchor

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/obiverse/nine-s/internal/scroll"
)

// Anchor is a point-in-time snapshot of a scroll. Anchors are value
// types: only the label and description can change, and only by
// producing a new instance.
type Anchor struct {
	ID          string         `json:"id"`
	Scroll      *scroll.Scroll `json:"scroll"`
	Hash        string         `json:"hash"`
	Timestamp   int64          `json:"timestamp"`
	Label       string         `json:"label,omitempty"`
	Description string         `json:"description,omitempty"`
}

// New captures sc as an anchor. The id is hash[0:8] "-" timestamp "-"
// 16 random hex chars; rnd defaults to the platform CSPRNG when nil.
func New(sc *scroll.Scroll, label string, now int64, rnd io.Reader) (*Anchor, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	var suffix [8]byte
	if _, err := io.ReadFull(rnd, suffix[:]); err != nil {
		return nil, fmt.Errorf("anchor: random id suffix: %w", err)
	}
	// The hash is recomputed from the captured content, never trusted
	// from metadata, so Verify can detect mutation of the snapshot.
	hash, err := sc.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("anchor: hash: %w", err)
	}
	return &Anchor{
		ID:        hash[:8] + "-" + strconv.FormatInt(now, 10) + "-" + hex.EncodeToString(suffix[:]),
		Scroll:    sc.Clone(),
		Hash:      hash,
		Timestamp: now,
		Label:     label,
	}, nil
}

// Verify recomputes the embedded scroll's content hash and checks it
// against the recorded hash.
func (a *Anchor) Verify() bool {
	computed, err := a.Scroll.ComputeHash()
	return err == nil && computed == a.Hash
}

// Equivalent reports whether two anchors capture the same content.
func Equivalent(a, b *Anchor) bool {
	return a != nil && b != nil && a.Hash == b.Hash
}

// WithLabel returns a copy of a carrying the new label.
func (a *Anchor) WithLabel(label string) *Anchor {
	out := *a
	out.Label = label
	return &out
}

// WithDescription returns a copy of a carrying the new description.
func (a *Anchor) WithDescription(description string) *Anchor {
	out := *a
	out.Description = description
	return &out
}
