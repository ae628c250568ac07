package store

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const formatVersion = 1

type scryptCost struct{ N, R, P int }

var defaultCost = scryptCost{N: 1 << 15, R: 8, P: 1}

// sealedFile is the on-disk layout. The salt doubles as associated data.
type sealedFile struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Nonce  []byte `json:"nonce"`
	Cipher []byte `json:"cipher"`
}

func deriveKey(passphrase string, salt []byte, c scryptCost) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, c.N, c.R, c.P, chacha20poly1305.KeySize)
}

func seal(passphrase string, plaintext []byte, c scryptCost) ([]byte, error) {
	salt := make([]byte, 16)
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	key, err := deriveKey(passphrase, salt, c)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(sealedFile{
		V:      formatVersion,
		Salt:   salt,
		N:      c.N,
		R:      c.R,
		P:      c.P,
		Nonce:  nonce,
		Cipher: aead.Seal(nil, nonce, plaintext, salt),
	}, "", "  ")
}

func open(passphrase string, b []byte) ([]byte, error) {
	var f sealedFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongPassphrase, err)
	}
	if f.V != formatVersion {
		return nil, fmt.Errorf("store: unsupported file version %d", f.V)
	}
	if len(f.Nonce) != chacha20poly1305.NonceSize {
		return nil, ErrWrongPassphrase
	}

	key, err := deriveKey(passphrase, f.Salt, scryptCost{N: f.N, R: f.R, P: f.P})
	if err != nil {
		return nil, fmt.Errorf("store: derive key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, f.Nonce, f.Cipher, f.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}
