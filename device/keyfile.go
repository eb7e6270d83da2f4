// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"

	"github.com/parsec-cloud/go-parsec/certif"
	"github.com/parsec-cloud/go-parsec/lib/codec"
	"github.com/parsec-cloud/go-parsec/lib/ref"
	"github.com/parsec-cloud/go-parsec/lib/sealed"
	"github.com/parsec-cloud/go-parsec/lib/secretbox"
	"github.com/parsec-cloud/go-parsec/lib/sign"
)

// ErrBadPassphrase is returned when a keyfile decrypts to garbage:
// wrong passphrase, or a corrupted file.
var ErrBadPassphrase = errors.New("device: wrong passphrase or corrupted keyfile")

// argon2id parameters. Stored in the keyfile so they can be raised for
// new files without breaking old ones.
const (
	kdfTime    = 3
	kdfMemory  = 64 * 1024 // KiB
	kdfThreads = 4
)

// keyfileEnvelope is the on-disk keyfile: KDF parameters in the clear,
// everything else inside the ciphertext.
type keyfileEnvelope struct {
	Salt       []byte `cbor:"salt"`
	Time       uint32 `cbor:"time"`
	Memory     uint32 `cbor:"memory"`
	Threads    uint8  `cbor:"threads"`
	Ciphertext []byte `cbor:"ciphertext"`
}

// keyfilePayload is the encrypted identity material.
type keyfilePayload struct {
	UserID        ref.UserID   `cbor:"user_id"`
	DeviceID      ref.DeviceID `cbor:"device_id"`
	SigningSeed   []byte       `cbor:"signing_seed"`
	RootVerifyKey []byte       `cbor:"root_verify_key"`
	LocalKey      []byte       `cbor:"local_key"`
	AgePrivateKey string       `cbor:"age_private_key"`
	Profile       string       `cbor:"profile"`
}

// Encode serializes the full identity. The result contains private key
// material and must only ever live inside an encrypted envelope (the
// keyfile, or a recovery payload ciphered with a shared secret).
func Encode(dev *LocalDevice) ([]byte, error) {
	payload, err := codec.Marshal(keyfilePayload{
		UserID:        dev.UserID,
		DeviceID:      dev.DeviceID,
		SigningSeed:   dev.SigningKey.Seed(),
		RootVerifyKey: dev.RootVerifyKey.Bytes(),
		LocalKey:      dev.LocalKey.Bytes(),
		AgePrivateKey: dev.AgeKeys.PrivateKey,
		Profile:       string(dev.Profile),
	})
	if err != nil {
		return nil, fmt.Errorf("device: encoding identity: %w", err)
	}
	return payload, nil
}

// Decode reverses Encode, reconstructing the derived key halves.
func Decode(raw []byte) (*LocalDevice, error) {
	var payload keyfilePayload
	if err := codec.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("device: decoding identity: %w", err)
	}

	signingKey, err := sign.SigningKeyFromSeed(payload.SigningSeed)
	if err != nil {
		return nil, fmt.Errorf("device: identity signing key: %w", err)
	}
	rootVerifyKey, err := sign.VerifyKeyFromBytes(payload.RootVerifyKey)
	if err != nil {
		return nil, fmt.Errorf("device: identity root key: %w", err)
	}
	localKey, err := secretbox.KeyFromBytes(payload.LocalKey)
	if err != nil {
		return nil, fmt.Errorf("device: identity local key: %w", err)
	}
	agePublic, err := sealed.PublicKeyFor(payload.AgePrivateKey)
	if err != nil {
		return nil, fmt.Errorf("device: identity age key: %w", err)
	}

	return &LocalDevice{
		UserID:        payload.UserID,
		DeviceID:      payload.DeviceID,
		SigningKey:    signingKey,
		RootVerifyKey: rootVerifyKey,
		LocalKey:      localKey,
		AgeKeys:       sealed.Keypair{PrivateKey: payload.AgePrivateKey, PublicKey: agePublic},
		Profile:       certif.Profile(payload.Profile),
	}, nil
}

// SaveKeyfile writes the device identity to path, encrypted with a
// key derived from passphrase. The file is created with mode 0600.
func SaveKeyfile(path string, passphrase []byte, dev *LocalDevice) error {
	payload, err := Encode(dev)
	if err != nil {
		return err
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("device: generating keyfile salt: %w", err)
	}
	key, err := secretbox.KeyFromBytes(
		argon2.IDKey(passphrase, salt, kdfTime, kdfMemory, kdfThreads, secretbox.KeySize))
	if err != nil {
		return fmt.Errorf("device: %w", err)
	}
	ciphertext, err := key.Encrypt(payload)
	if err != nil {
		return fmt.Errorf("device: encrypting keyfile: %w", err)
	}

	envelope, err := codec.Marshal(keyfileEnvelope{
		Salt:       salt,
		Time:       kdfTime,
		Memory:     kdfMemory,
		Threads:    kdfThreads,
		Ciphertext: ciphertext,
	})
	if err != nil {
		return fmt.Errorf("device: encoding keyfile envelope: %w", err)
	}
	if err := os.WriteFile(path, envelope, 0o600); err != nil {
		return fmt.Errorf("device: writing keyfile: %w", err)
	}
	return nil
}

// LoadKeyfile reads and decrypts a keyfile.
func LoadKeyfile(path string, passphrase []byte) (*LocalDevice, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("device: reading keyfile: %w", err)
	}

	var envelope keyfileEnvelope
	if err := codec.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("device: decoding keyfile envelope: %w", err)
	}

	key, err := secretbox.KeyFromBytes(argon2.IDKey(
		passphrase, envelope.Salt,
		envelope.Time, envelope.Memory, envelope.Threads,
		secretbox.KeySize))
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}
	payloadBytes, err := key.Decrypt(envelope.Ciphertext)
	if err != nil {
		return nil, ErrBadPassphrase
	}
	return Decode(payloadBytes)
}
