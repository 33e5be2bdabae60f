// Package seal implements the shareable encrypted envelope: a scroll
// sealed under AES-256-GCM with an optional PBKDF2-derived key, encoded
// as JSON or a beescroll:// URI.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/obiverse/nine-s/internal/scroll"
)

// Failure modes.
var (
	ErrContentTooLarge  = errors.New("seal: content exceeds size cap")
	ErrInvalidFormat    = errors.New("seal: invalid envelope format")
	ErrDecryption       = errors.New("seal: decryption failed")
	ErrPasswordRequired = errors.New("seal: password required")
)

// Envelope parameters.
const (
	Version = 1

	// MaxPlaintext caps the serialized scroll size.
	MaxPlaintext = 65536

	pbkdf2Iterations = 100_000
	saltSize         = 16
	nonceSize        = 12
	keySize          = 32

	uriPrefix       = "beescroll://v1/"
	legacyURIPrefix = "beenote://v1/"
)

// noPasswordSeed keys envelopes sealed without a password. This is
// obfuscation, not security: anyone holding the envelope can open it.
const noPasswordSeed = "beescroll:no-password"

// SealedScroll is the self-contained envelope. Ciphertext carries the
// GCM tag; the nonce and salt travel in their own fields.
type SealedScroll struct {
	Version     int    `json:"version"`
	Ciphertext  string `json:"ciphertext"`
	Nonce       string `json:"nonce"`
	Salt        string `json:"salt,omitempty"`
	HasPassword bool   `json:"has_password"`
	SealedAt    int64  `json:"sealed_at"`
	ScrollType  string `json:"scroll_type,omitempty"`
}

// Option configures sealing.
type Option func(*sealer)

type sealer struct {
	clock func() int64 // seconds epoch
	rand  io.Reader
}

// WithClock injects the seconds-epoch clock stamped into sealed_at.
func WithClock(clock func() int64) Option {
	return func(s *sealer) { s.clock = clock }
}

// WithRand injects the randomness source for salts and nonces.
func WithRand(rnd io.Reader) Option {
	return func(s *sealer) { s.rand = rnd }
}

// sealPlaintext serializes sc canonically. Marshaling the struct
// directly would emit its fields in declaration order; the canonical
// form orders every key by Unicode code point, so the envelope is
// rebuilt as a mapping first.
func sealPlaintext(sc *scroll.Scroll) ([]byte, error) {
	raw, err := json.Marshal(sc)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return scroll.CanonicalJSON(doc)
}

// Seal encrypts sc into a shareable envelope. An empty password selects
// the fixed obfuscation key; otherwise the key is derived with
// PBKDF2-HMAC-SHA256 over a fresh 16-byte salt.
func Seal(sc *scroll.Scroll, password string, opts ...Option) (*SealedScroll, error) {
	s := &sealer{
		clock: func() int64 { return time.Now().Unix() },
		rand:  rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}

	plaintext, err := sealPlaintext(sc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if len(plaintext) > MaxPlaintext {
		return nil, fmt.Errorf("%w: %d bytes > %d", ErrContentTooLarge, len(plaintext), MaxPlaintext)
	}

	env := &SealedScroll{
		Version:    Version,
		SealedAt:   s.clock(),
		ScrollType: sc.Type,
	}
	var key []byte
	if password != "" {
		salt := make([]byte, saltSize)
		if _, err := io.ReadFull(s.rand, salt); err != nil {
			return nil, fmt.Errorf("seal: salt: %w", err)
		}
		key = pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keySize, sha256.New)
		env.Salt = base64.StdEncoding.EncodeToString(salt)
		env.HasPassword = true
	} else {
		fixed := sha256.Sum256([]byte(noPasswordSeed))
		key = fixed[:]
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return nil, fmt.Errorf("seal: nonce: %w", err)
	}
	env.Ciphertext = base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, plaintext, nil))
	env.Nonce = base64.StdEncoding.EncodeToString(nonce)
	return env, nil
}

// Unseal decrypts the envelope back into a scroll. A password is
// required exactly when the envelope was sealed with one.
func Unseal(env *SealedScroll, password string) (*scroll.Scroll, error) {
	if env.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidFormat, env.Version)
	}
	var key []byte
	if env.HasPassword {
		if password == "" {
			return nil, ErrPasswordRequired
		}
		salt, err := base64.StdEncoding.DecodeString(env.Salt)
		if err != nil || len(salt) == 0 {
			return nil, fmt.Errorf("%w: bad salt", ErrInvalidFormat)
		}
		key = pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keySize, sha256.New)
	} else {
		fixed := sha256.Sum256([]byte(noPasswordSeed))
		key = fixed[:]
	}

	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != nonceSize {
		return nil, fmt.Errorf("%w: bad nonce", ErrInvalidFormat)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext", ErrInvalidFormat)
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	var sc scroll.Scroll
	if err := json.Unmarshal(plaintext, &sc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return &sc, nil
}

// ToURI encodes the envelope as beescroll://v1/<base64url(json)>.
func (env *SealedScroll) ToURI() (string, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return uriPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// FromURI decodes an envelope from a beescroll:// URI, the legacy
// beenote:// prefix, or raw envelope JSON.
func FromURI(s string) (*SealedScroll, error) {
	s = strings.TrimSpace(s)
	var raw []byte
	switch {
	case strings.HasPrefix(s, uriPrefix):
		decoded, err := decodeBase64URL(strings.TrimPrefix(s, uriPrefix))
		if err != nil {
			return nil, err
		}
		raw = decoded
	case strings.HasPrefix(s, legacyURIPrefix):
		decoded, err := decodeBase64URL(strings.TrimPrefix(s, legacyURIPrefix))
		if err != nil {
			return nil, err
		}
		raw = decoded
	case strings.HasPrefix(s, "{"):
		raw = []byte(s)
	default:
		return nil, fmt.Errorf("%w: unrecognized input", ErrInvalidFormat)
	}
	var env SealedScroll
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return &env, nil
}

func decodeBase64URL(s string) ([]byte, error) {
	if decoded, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	decoded, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return decoded, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("seal: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("seal: gcm: %w", err)
	}
	return aead, nil
}
