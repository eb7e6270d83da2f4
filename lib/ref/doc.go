// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides the identifier types shared across the client:
// user, device, realm, entry, and vlob identifiers, plus validated
// filesystem entry names.
//
// Each identifier is a distinct Go type wrapping its raw representation
// so that a user ID can never be passed where a device ID is expected.
// UUID-backed identifiers serialize as their canonical 16-byte form in
// CBOR (via MarshalBinary) and as the hyphenated hex form in text
// contexts (logs, SQL columns).
package ref
