// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

// signatureSize is the fixed size of an Ed25519 signature.
const signatureSize = ed25519.SignatureSize // 64 bytes

// ErrInvalidSignature is returned by Open when the signature does not
// verify. Indicates tampering or a wrong key, never a transient
// condition.
var ErrInvalidSignature = errors.New("sign: invalid Ed25519 signature")

// SigningKey is an Ed25519 private key. Never serialized into
// certificates; persisted only inside the encrypted device keyfile.
type SigningKey struct {
	key ed25519.PrivateKey
}

// VerifyKey is an Ed25519 public key. Safe to publish; registered in
// device certificates so other clients can verify this device's
// signatures.
type VerifyKey struct {
	key ed25519.PublicKey
}

// GenerateSigningKey creates a fresh random signing key.
func GenerateSigningKey() (SigningKey, error) {
	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SigningKey{}, fmt.Errorf("sign: generating Ed25519 key: %w", err)
	}
	return SigningKey{key: private}, nil
}

// SigningKeyFromSeed reconstructs a signing key from its 32-byte seed.
func SigningKeyFromSeed(seed []byte) (SigningKey, error) {
	if len(seed) != ed25519.SeedSize {
		return SigningKey{}, fmt.Errorf("sign: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return SigningKey{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// Seed returns the 32-byte seed for keyfile persistence.
func (k SigningKey) Seed() []byte { return k.key.Seed() }

// VerifyKey returns the public half.
func (k SigningKey) VerifyKey() VerifyKey {
	return VerifyKey{key: k.key.Public().(ed25519.PublicKey)}
}

// Sign returns payload followed by its 64-byte signature.
func (k SigningKey) Sign(payload []byte) []byte {
	signature := ed25519.Sign(k.key, payload)
	signed := make([]byte, len(payload)+signatureSize)
	copy(signed, payload)
	copy(signed[len(payload):], signature)
	return signed
}

// Open splits signed bytes produced by Sign, verifies the signature,
// and returns the payload.
func (k VerifyKey) Open(signed []byte) ([]byte, error) {
	if len(signed) <= signatureSize {
		return nil, fmt.Errorf("sign: signed data too short for a signature: %w", ErrInvalidSignature)
	}
	splitPoint := len(signed) - signatureSize
	payload := signed[:splitPoint]
	signature := signed[splitPoint:]
	if !ed25519.Verify(k.key, payload, signature) {
		return nil, ErrInvalidSignature
	}
	return payload, nil
}

// Payload returns the payload portion of signed bytes WITHOUT
// verifying the signature. Callers use this to discover who claims to
// have signed a blob, look up that author's registered verify key, and
// then Open the same bytes properly. Trusting the result without a
// subsequent Open is a bug.
func Payload(signed []byte) ([]byte, error) {
	if len(signed) <= signatureSize {
		return nil, fmt.Errorf("sign: signed data too short for a signature: %w", ErrInvalidSignature)
	}
	return signed[:len(signed)-signatureSize], nil
}

// VerifyKeyFromBytes reconstructs a verify key from its 32-byte form.
func VerifyKeyFromBytes(raw []byte) (VerifyKey, error) {
	if len(raw) != ed25519.PublicKeySize {
		return VerifyKey{}, fmt.Errorf("sign: verify key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	key := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(key, raw)
	return VerifyKey{key: key}, nil
}

// Bytes returns the 32-byte public key.
func (k VerifyKey) Bytes() []byte { return []byte(k.key) }

// IsZero reports whether the key is unset.
func (k VerifyKey) IsZero() bool { return len(k.key) == 0 }

// Equal reports whether two verify keys are the same key.
func (k VerifyKey) Equal(other VerifyKey) bool { return k.key.Equal(other.key) }

// Fingerprint returns a short BLAKE3-based hex digest of the public
// key, for logs and error messages.
func (k VerifyKey) Fingerprint() string {
	digest := blake3.Sum256(k.key)
	return hex.EncodeToString(digest[:8])
}

// MarshalBinary implements encoding.BinaryMarshaler so verify keys
// embed in CBOR certificate payloads as byte strings.
func (k VerifyKey) MarshalBinary() ([]byte, error) { return k.Bytes(), nil }

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (k *VerifyKey) UnmarshalBinary(data []byte) error {
	parsed, err := VerifyKeyFromBytes(data)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
