// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

// Package shamir implements device recovery through secret sharing.
//
// A user splits a recovery secret across a set of recipient users, any
// threshold-weight subset of whom can later reconstruct it. The secret
// derives a symmetric key that ciphers a full recovery device identity;
// the identity itself is published alongside the setup, so recovering a
// lost account needs only the shares, never the server's cooperation
// beyond serving the ciphered blob.
//
// The setup is announced through three certificate kinds on the shamir
// topic: a brief (recipients and threshold, visible to all recipients),
// one share certificate per recipient (the share material sealed to
// that recipient's public key), and a deletion certificate that
// invalidates a previous setup. Brief and shares are submitted
// atomically and carry the same timestamp; the (user, timestamp) pair
// is what ties shares to their setup.
package shamir
