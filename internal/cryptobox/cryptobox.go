// Package cryptobox implements the symmetric envelope used on the wire:
// AES-256-GCM over a JSON payload, with a fresh 96-bit IV appended after the
// ciphertext. The relay only ever sees these envelopes.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	KeySize = 32 // AES-256
	IVSize  = 12 // GCM standard nonce
	TagSize = 16
)

var (
	ErrCryptoUnavailable = errors.New("cryptographic random source unavailable")
	ErrInvalidKey        = errors.New("invalid key")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrInvalidPayload    = errors.New("decrypted payload is not valid JSON")
)

// Key is an imported AES-GCM key. The zero value is not usable.
type Key struct {
	raw  []byte
	aead cipher.AEAD
}

func newKey(raw []byte) (Key, error) {
	if len(raw) != KeySize {
		return Key{}, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidKey, KeySize, len(raw))
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	buf := make([]byte, KeySize)
	copy(buf, raw)
	return Key{raw: buf, aead: aead}, nil
}

// Valid reports whether k holds key material.
func (k Key) Valid() bool { return k.aead != nil }

// GenerateKey returns a fresh random 256-bit key.
func GenerateKey() (Key, error) {
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	return newKey(raw)
}

// ExportKey serializes the raw key as unpadded base64url for out-of-band
// conveyance (URL fragments).
func ExportKey(k Key) string {
	return EncodeBase64URL(k.raw)
}

// ImportKey is the inverse of ExportKey.
func ImportKey(s string) (Key, error) {
	raw, err := DecodeBase64URL(s)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return newKey(raw)
}

// Fingerprint returns a stable hex digest of the key. Two keys share a
// fingerprint only if they are the same key.
func Fingerprint(k Key) string {
	sum := sha256.Sum256(k.raw)
	return hex.EncodeToString(sum[:])
}

// ---------------------------------------------------------------------------
// Envelopes
// ---------------------------------------------------------------------------

// Encrypt serializes payload to JSON and seals it. The result is
// ciphertext||iv. A new IV is drawn for every call.
func Encrypt(k Key, payload any) ([]byte, error) {
	if !k.Valid() {
		return nil, ErrInvalidKey
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}

	out := k.aead.Seal(make([]byte, 0, len(plaintext)+TagSize+IVSize), iv, plaintext, nil)
	return append(out, iv...), nil
}

// Decrypt opens an envelope produced by Encrypt and returns the JSON
// payload. Tampering, a wrong key or truncation all yield ErrDecryptionFailed.
func Decrypt(k Key, envelope []byte) (json.RawMessage, error) {
	if !k.Valid() {
		return nil, ErrInvalidKey
	}
	if len(envelope) < IVSize+TagSize {
		return nil, fmt.Errorf("%w: envelope too short (%d bytes)", ErrDecryptionFailed, len(envelope))
	}

	split := len(envelope) - IVSize
	ciphertext, iv := envelope[:split], envelope[split:]

	plaintext, err := k.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if !json.Valid(plaintext) {
		return nil, ErrInvalidPayload
	}
	return json.RawMessage(plaintext), nil
}

// DecryptInto decrypts envelope and unmarshals the payload into v.
func DecryptInto(k Key, envelope []byte, v any) error {
	raw, err := Decrypt(k, envelope)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
