// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides asymmetric per-recipient encryption, built
// on age X25519.
//
// Two things in the protocol are encrypted "for a recipient" rather
// than with a shared symmetric key: the per-user access blobs of a
// realm's keys bundle, and the per-recipient shares of a recovery
// setup. Both seal a small secret to a recipient's published public
// key; only the matching private key can open it.
//
// Ciphertext is binary (the raw age stream) — it travels inside CBOR
// payloads, not JSON, so no transport encoding is applied.
package sealed
