// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the standard serialization for everything the
// client signs, encrypts, or persists: certificate payloads, manifests,
// keys bundles, device keyfiles.
//
// The encoding is CBOR with Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Determinism is load-bearing here — a
// certificate's signature covers the serialized payload, so the same
// logical payload must always produce identical bytes on every device
// that re-serializes it.
//
// Decoding accepts standard CBOR and silently ignores unknown struct
// fields, so older clients keep working when the payload schema grows.
package codec
