// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package secretbox

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the symmetric key length in bytes.
const KeySize = chacha20poly1305.KeySize // 32

// ErrDecryptionFailed is returned when ciphertext fails
// authentication: wrong key, truncation, or tampering.
var ErrDecryptionFailed = errors.New("secretbox: decryption failed")

// Key is an XChaCha20-Poly1305 key.
type Key struct {
	raw [KeySize]byte
}

// GenerateKey creates a fresh random key.
func GenerateKey() (Key, error) {
	var key Key
	if _, err := rand.Read(key.raw[:]); err != nil {
		return Key{}, fmt.Errorf("secretbox: generating key: %w", err)
	}
	return key, nil
}

// KeyFromBytes builds a key from existing 32-byte material (a keyfile
// field, a decrypted keys-bundle entry).
func KeyFromBytes(raw []byte) (Key, error) {
	if len(raw) != KeySize {
		return Key{}, fmt.Errorf("secretbox: key must be %d bytes, got %d", KeySize, len(raw))
	}
	var key Key
	copy(key.raw[:], raw)
	return key, nil
}

// DeriveKey derives a key from arbitrary material using BLAKE3's
// key-derivation mode. The context string domain-separates uses (two
// different contexts over the same material yield unrelated keys).
func DeriveKey(context string, material []byte) Key {
	var key Key
	blake3.DeriveKey(context, material, key.raw[:])
	return key
}

// Bytes returns the raw key material for keyfile persistence.
func (k Key) Bytes() []byte {
	out := make([]byte, KeySize)
	copy(out, k.raw[:])
	return out
}

// Encrypt seals plaintext with a fresh random nonce. Output layout:
// nonce ‖ AEAD ciphertext.
func (k Key) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(k.raw[:])
	if err != nil {
		return nil, fmt.Errorf("secretbox: initializing cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secretbox: generating nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt.
func (k Key) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < chacha20poly1305.NonceSizeX {
		return nil, ErrDecryptionFailed
	}
	aead, err := chacha20poly1305.NewX(k.raw[:])
	if err != nil {
		return nil, fmt.Errorf("secretbox: initializing cipher: %w", err)
	}
	nonce := ciphertext[:chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, ciphertext[chacha20poly1305.NonceSizeX:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
