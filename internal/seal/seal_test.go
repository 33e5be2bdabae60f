package seal

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/obiverse/nine-s/internal/scroll"
	"github.com/obiverse/nine-s/internal/testutil"
)

func noteScroll(t *testing.T) *scroll.Scroll {
	t.Helper()
	s, err := scroll.Stamp(nil, &scroll.Scroll{
		Key:  "/notes",
		Type: "notes/entry@v1",
		Data: map[string]any{"msg": "Hello"},
	}, 1700000000000)
	if err != nil {
		t.Fatalf("Stamp: %v", err)
	}
	return s
}

func TestSealUnsealWithPassword(t *testing.T) {
	env, err := Seal(noteScroll(t), "pw")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !env.HasPassword {
		t.Error("has_password not set")
	}
	if env.Salt == "" {
		t.Error("salt missing for password-sealed envelope")
	}
	if env.Version != 1 {
		t.Errorf("version = %d", env.Version)
	}
	if env.ScrollType != "notes/entry@v1" {
		t.Errorf("scroll_type = %q", env.ScrollType)
	}

	got, err := Unseal(env, "pw")
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if got.Key != "/notes" {
		t.Errorf("key = %q", got.Key)
	}
	if got.Data["msg"] != "Hello" {
		t.Errorf("data = %#v", got.Data)
	}
}

func TestSealUnsealWithoutPassword(t *testing.T) {
	env, err := Seal(noteScroll(t), "")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if env.HasPassword {
		t.Error("has_password set without password")
	}
	if env.Salt != "" {
		t.Error("salt present without password")
	}
	got, err := Unseal(env, "")
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if got.Data["msg"] != "Hello" {
		t.Errorf("data = %#v", got.Data)
	}
}

func TestWrongPasswordIsDecryptionError(t *testing.T) {
	env, err := Seal(noteScroll(t), "pw")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Unseal(env, "bad"); !errors.Is(err, ErrDecryption) {
		t.Errorf("err = %v, want decryption", err)
	}
	if _, err := Unseal(env, ""); !errors.Is(err, ErrPasswordRequired) {
		t.Errorf("err = %v, want password required", err)
	}
}

func TestSealedPlaintextIsCanonical(t *testing.T) {
	env, err := Seal(noteScroll(t), "")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	fixed := sha256.Sum256([]byte(noPasswordSeed))
	aead, err := newAEAD(fixed[:])
	if err != nil {
		t.Fatalf("newAEAD: %v", err)
	}
	nonce, _ := base64.StdEncoding.DecodeString(env.Nonce)
	ct, _ := base64.StdEncoding.DecodeString(env.Ciphertext)
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// Envelope keys in code-point order: data, key, metadata, type.
	s := string(pt)
	if !strings.HasPrefix(s, `{"data":`) {
		t.Errorf("plaintext does not start with the data field: %s", s)
	}
	for _, pair := range [][2]string{{`"data":`, `"key":`}, {`"key":`, `"metadata":`}, {`"metadata":`, `"type":`}} {
		if strings.Index(s, pair[0]) > strings.Index(s, pair[1]) {
			t.Errorf("envelope keys out of order (%s after %s): %s", pair[0], pair[1], s)
		}
	}
}

func TestSizeCap(t *testing.T) {
	big := strings.Repeat("x", MaxPlaintext+1)
	sc := &scroll.Scroll{Key: "/big", Data: map[string]any{"blob": big}}
	if _, err := Seal(sc, ""); !errors.Is(err, ErrContentTooLarge) {
		t.Errorf("err = %v, want content too large", err)
	}
}

func TestURIRoundTrip(t *testing.T) {
	env, err := Seal(noteScroll(t), "pw",
		WithClock(func() int64 { return 1700000000 }),
		WithRand(testutil.SeededRand(11)))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	uri, err := env.ToURI()
	if err != nil {
		t.Fatalf("ToURI: %v", err)
	}
	if !strings.HasPrefix(uri, "beescroll://v1/") {
		t.Errorf("uri = %q", uri)
	}
	back, err := FromURI(uri)
	if err != nil {
		t.Fatalf("FromURI: %v", err)
	}
	if back.Ciphertext != env.Ciphertext || back.Nonce != env.Nonce || back.Salt != env.Salt {
		t.Error("round trip lost fields")
	}
	if back.SealedAt != 1700000000 {
		t.Errorf("sealed_at = %d", back.SealedAt)
	}

	got, err := Unseal(back, "pw")
	if err != nil {
		t.Fatalf("Unseal after round trip: %v", err)
	}
	if got.Data["msg"] != "Hello" {
		t.Errorf("data = %#v", got.Data)
	}
}

func TestFromURILegacyPrefix(t *testing.T) {
	env, err := Seal(noteScroll(t), "")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	uri, _ := env.ToURI()
	legacy := "beenote://v1/" + strings.TrimPrefix(uri, "beescroll://v1/")
	back, err := FromURI(legacy)
	if err != nil {
		t.Fatalf("FromURI legacy: %v", err)
	}
	if back.Ciphertext != env.Ciphertext {
		t.Error("legacy decode lost ciphertext")
	}
}

func TestFromURIRawJSON(t *testing.T) {
	env, err := Seal(noteScroll(t), "")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	raw := `{"version":1,"ciphertext":"` + env.Ciphertext + `","nonce":"` + env.Nonce + `","has_password":false,"sealed_at":1}`
	back, err := FromURI(raw)
	if err != nil {
		t.Fatalf("FromURI raw JSON: %v", err)
	}
	if _, err := Unseal(back, ""); err != nil {
		t.Errorf("Unseal of raw JSON form: %v", err)
	}
}

func TestFromURIRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "http://example.com", "beescroll://v2/abc", "not a uri"} {
		if _, err := FromURI(in); !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("FromURI(%q) = %v, want invalid format", in, err)
		}
	}
}

func TestVersionMismatchRejected(t *testing.T) {
	env, err := Seal(noteScroll(t), "")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	env.Version = 2
	if _, err := Unseal(env, ""); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("err = %v, want invalid format", err)
	}
}

func TestTamperedCiphertextFailsAuth(t *testing.T) {
	env, err := Seal(noteScroll(t), "pw")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	// Flip a character of the base64 payload.
	ct := []byte(env.Ciphertext)
	if ct[0] == 'A' {
		ct[0] = 'B'
	} else {
		ct[0] = 'A'
	}
	env.Ciphertext = string(ct)
	if _, err := Unseal(env, "pw"); err == nil {
		t.Error("tampered envelope unsealed")
	}
}
