// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
)

// ErrDecryptionFailed is returned when a sealed blob cannot be opened
// with the given private key: wrong recipient, truncation, or
// tampering.
var ErrDecryptionFailed = errors.New("sealed: decryption failed")

// Keypair holds an age X25519 keypair. The private key string
// (AGE-SECRET-KEY-1...) is persisted only inside the encrypted device
// keyfile; the public key (age1...) is published in certificates.
type Keypair struct {
	PrivateKey string
	PublicKey  string
}

// GenerateKeypair generates a new X25519 keypair.
func GenerateKeypair() (Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return Keypair{}, fmt.Errorf("sealed: generating keypair: %w", err)
	}
	return Keypair{
		PrivateKey: identity.String(),
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// PublicKeyFor derives the public key of a private key string. Used
// when a keyfile stores only the private half.
func PublicKeyFor(privateKey string) (string, error) {
	identity, err := age.ParseX25519Identity(privateKey)
	if err != nil {
		return "", fmt.Errorf("sealed: parsing private key: %w", err)
	}
	return identity.Recipient().String(), nil
}

// Encrypt seals plaintext to a single recipient's public key.
func Encrypt(plaintext []byte, recipientKey string) ([]byte, error) {
	recipient, err := age.ParseX25519Recipient(recipientKey)
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing recipient key %q: %w", recipientKey, err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("sealed: writing plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("sealed: finalizing encryption: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// Decrypt opens a sealed blob with the recipient's private key.
func Decrypt(ciphertext []byte, privateKey string) ([]byte, error) {
	identity, err := age.ParseX25519Identity(privateKey)
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing private key: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
