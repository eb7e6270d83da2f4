// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

// Package secretbox wraps XChaCha20-Poly1305 symmetric encryption.
//
// Everything the client encrypts symmetrically goes through this
// package: manifests pushed to the server (realm keys), the local
// manifest database (the device's local storage key), and the device
// keyfile (a passphrase-derived key).
//
// Ciphertext is nonce-prefixed: a random 24-byte nonce followed by
// the AEAD output. Tampering surfaces as ErrDecryptionFailed — a
// corruption/forgery signal, never retried.
package secretbox
