// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

// Package sign wraps Ed25519 for certificate and manifest signing.
//
// The wire form pairs the serialized payload with its detached
// signature in one byte string: payload followed by the 64-byte
// signature. Sign produces that form; Open verifies and returns the
// payload. Verification failure is ErrInvalidSignature — the caller
// treats it as tampering, not as a recoverable condition.
package sign
