// Package store implements the versioned namespace wrapper: optional
// AES-256-GCM encryption at rest, per-key patch history with ring-buffer
// retention, anchors, time-travel reads, and restore.
package store

import (
	"crypto/cipher"
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/obiverse/nine-s/internal/anchor"
	"github.com/obiverse/nine-s/internal/ns"
	"github.com/obiverse/nine-s/internal/patch"
	"github.com/obiverse/nine-s/internal/scroll"
)

// Retention defaults.
const (
	DefaultMaxPatches = 100
	DefaultMaxAnchors = 10
)

// Store wraps a backend namespace with encryption and history. Patch and
// anchor logs live in memory and belong to the store that created them;
// on a fresh store the patch sequence restarts at one.
type Store struct {
	backend ns.Namespace

	mu     sync.Mutex
	closed bool

	encrypted bool
	aead      cipher.AEAD

	history    bool
	maxPatches int
	maxAnchors int
	patches    map[string][]*patch.Patch
	anchors    map[string][]*anchor.Anchor

	clock func() int64
	rand  io.Reader
}

// Option configures a store.
type Option func(*Store) error

// WithEncryption enables encryption at rest with the given 32-byte key.
func WithEncryption(key []byte) Option {
	return func(s *Store) error {
		aead, err := newAEAD(key)
		if err != nil {
			return err
		}
		s.encrypted = true
		s.aead = aead
		return nil
	}
}

// WithHistory enables the patch-and-anchor history engine.
func WithHistory() Option {
	return func(s *Store) error {
		s.history = true
		return nil
	}
}

// WithMaxPatches sets the per-key patch retention.
func WithMaxPatches(max int) Option {
	return func(s *Store) error {
		if max > 0 {
			s.maxPatches = max
		}
		return nil
	}
}

// WithMaxAnchors sets the per-key anchor retention.
func WithMaxAnchors(max int) Option {
	return func(s *Store) error {
		if max > 0 {
			s.maxAnchors = max
		}
		return nil
	}
}

// WithClock injects the millisecond-epoch clock.
func WithClock(clock func() int64) Option {
	return func(s *Store) error {
		s.clock = clock
		return nil
	}
}

// WithRand injects the randomness source for nonces and anchor ids.
func WithRand(rnd io.Reader) Option {
	return func(s *Store) error {
		s.rand = rnd
		return nil
	}
}

// New wraps backend in a store.
func New(backend ns.Namespace, opts ...Option) (*Store, error) {
	s := &Store{
		backend:    backend,
		maxPatches: DefaultMaxPatches,
		maxAnchors: DefaultMaxAnchors,
		patches:    make(map[string][]*patch.Patch),
		anchors:    make(map[string][]*anchor.Anchor),
		clock:      func() int64 { return time.Now().UnixMilli() },
		rand:       rand.Reader,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, ns.Errorf(ns.CodeInvalidData, "store: %w", err)
		}
	}
	return s, nil
}

var _ ns.Namespace = (*Store)(nil)

// Read returns the scroll at path with its data decrypted.
func (s *Store) Read(path string) (*scroll.Scroll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ns.E(ns.CodeClosed, "store is closed")
	}
	return s.readLocked(path)
}

func (s *Store) readLocked(path string) (*scroll.Scroll, error) {
	sc, err := s.backend.Read(path)
	if err != nil || sc == nil {
		return nil, err
	}
	return s.decryptScroll(sc)
}

func (s *Store) decryptScroll(sc *scroll.Scroll) (*scroll.Scroll, error) {
	if !s.encrypted || !isEncryptedForm(sc.Data) {
		return sc, nil
	}
	data, err := decryptData(s.aead, sc.Data)
	if err != nil {
		return nil, ns.Errorf(ns.CodeInternal, "decrypt %q: %w", sc.Key, err)
	}
	out := sc.Clone()
	out.Data = data
	return out, nil
}

// Write persists data at path, encrypting at rest when configured, and
// records a history patch.
func (s *Store) Write(path string, data map[string]any) (*scroll.Scroll, error) {
	return s.WriteScroll(&scroll.Scroll{Key: path, Data: data})
}

// WriteScroll persists sc through the backend write pipeline. The
// returned scroll carries plaintext data even when encryption is on.
func (s *Store) WriteScroll(sc *scroll.Scroll) (*scroll.Scroll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ns.E(ns.CodeClosed, "store is closed")
	}

	var prior *scroll.Scroll
	if s.history {
		p, err := s.readLocked(sc.Key)
		if err != nil {
			return nil, err
		}
		prior = p
	}

	toWrite := sc
	if s.encrypted {
		enc, err := encryptData(s.aead, s.rand, scroll.CopyData(sc.Data))
		if err != nil {
			return nil, ns.Errorf(ns.CodeInternal, "encrypt %q: %w", sc.Key, err)
		}
		toWrite = sc.Clone()
		toWrite.Data = enc
	}

	persisted, err := s.backend.WriteScroll(toWrite)
	if err != nil {
		return nil, err
	}

	// Callers and the history log see plaintext; only the backend holds
	// the at-rest form.
	result := persisted
	if s.encrypted {
		result = persisted.Clone()
		result.Data = scroll.CopyData(sc.Data)
	}

	if s.history {
		s.recordPatch(prior, result)
	}
	return result, nil
}

// List delegates to the backend.
func (s *Store) List(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ns.E(ns.CodeClosed, "store is closed")
	}
	return s.backend.List(prefix)
}

// Watch subscribes on the backend, decrypting emitted scrolls so
// subscribers receive plaintext. A scroll that fails to decrypt is
// forwarded unchanged, in its at-rest form.
func (s *Store) Watch(pattern string) (*ns.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ns.E(ns.CodeClosed, "store is closed")
	}
	inner, err := s.backend.Watch(pattern)
	if err != nil {
		return nil, err
	}
	if !s.encrypted {
		return inner, nil
	}
	return ns.Forward(inner, pattern, func(sc *scroll.Scroll) *scroll.Scroll {
		dec, err := s.decryptScroll(sc)
		if err != nil {
			return sc
		}
		return dec
	}), nil
}

// Close closes the backend and discards the history maps. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.patches = nil
	s.anchors = nil
	return s.backend.Close()
}
