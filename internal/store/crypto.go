package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the required encryption key length in bytes (AES-256).
const KeySize = 32

// nonceSize is the AES-GCM nonce length; the nonce is prepended to the
// ciphertext in the stored blob.
const nonceSize = 12

// hkdfSalt is the fixed salt for application key derivation.
var hkdfSalt = []byte("nine_s_v1")

// encryptedField is the single data key carrying the ciphertext blob at
// rest: base64(nonce || ciphertext || tag).
const encryptedField = "_encrypted"

// DeriveAppKey derives a 32-byte application key from a master key via
// HKDF-SHA256. The same master with different application names yields
// independent keys.
func DeriveAppKey(master []byte, appName string) ([]byte, error) {
	r := hkdf.New(sha256.New, master, hkdfSalt, []byte(appName))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("store: derive app key: %w", err)
	}
	return key, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("store: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("store: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("store: gcm: %w", err)
	}
	return aead, nil
}

// encryptData replaces a plaintext data mapping with its at-rest form:
// {"_encrypted": base64(nonce || ciphertext || tag)}.
func encryptData(aead cipher.AEAD, rnd io.Reader, data map[string]any) (map[string]any, error) {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("store: encode plaintext: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rnd, nonce); err != nil {
		return nil, fmt.Errorf("store: nonce: %w", err)
	}
	blob := aead.Seal(nonce, nonce, plaintext, nil)
	return map[string]any{encryptedField: base64.StdEncoding.EncodeToString(blob)}, nil
}

// decryptData reverses encryptData. It accepts the canonical
// nonce-prefixed blob and the legacy two-field form
// {"ciphertext": ..., "nonce": ...}.
func decryptData(aead cipher.AEAD, data map[string]any) (map[string]any, error) {
	var nonce, ciphertext []byte
	switch {
	case data[encryptedField] != nil:
		blobB64, ok := data[encryptedField].(string)
		if !ok {
			return nil, fmt.Errorf("store: %s is not a string", encryptedField)
		}
		blob, err := base64.StdEncoding.DecodeString(blobB64)
		if err != nil {
			return nil, fmt.Errorf("store: decode blob: %w", err)
		}
		if len(blob) < nonceSize {
			return nil, fmt.Errorf("store: blob shorter than nonce")
		}
		nonce, ciphertext = blob[:nonceSize], blob[nonceSize:]
	case data["ciphertext"] != nil && data["nonce"] != nil:
		ctB64, _ := data["ciphertext"].(string)
		nB64, _ := data["nonce"].(string)
		var err error
		if ciphertext, err = base64.StdEncoding.DecodeString(ctB64); err != nil {
			return nil, fmt.Errorf("store: decode ciphertext: %w", err)
		}
		if nonce, err = base64.StdEncoding.DecodeString(nB64); err != nil {
			return nil, fmt.Errorf("store: decode nonce: %w", err)
		}
	default:
		return nil, fmt.Errorf("store: data is not in encrypted form")
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("store: decrypt: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(plaintext, &out); err != nil {
		return nil, fmt.Errorf("store: decode plaintext: %w", err)
	}
	return out, nil
}

// isEncryptedForm reports whether data looks like an at-rest blob.
func isEncryptedForm(data map[string]any) bool {
	if data == nil {
		return false
	}
	if _, ok := data[encryptedField]; ok {
		return true
	}
	_, hasCT := data["ciphertext"]
	_, hasNonce := data["nonce"]
	return hasCT && hasNonce
}
