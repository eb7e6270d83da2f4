// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

// Package workspace is the per-realm sync engine: it keeps the local
// manifest database converging with the server's vlobs.
//
// Inbound sync pulls a vlob, validates its author against the
// certificate ledger, merges it into the local manifest, and persists
// the result. Outbound sync seals the local state and pushes it as the
// next vlob version, falling back to inbound-then-retry when the
// server reports a concurrent write. Bootstrap runs the realm creation
// protocol: founding role certificate, initial key rotation, initial
// encrypted name.
//
// Local manifests are stored sealed with the device's local key, so
// the database file leaks nothing at rest. Realm keys are fetched
// lazily from the server's keys bundle and verified against the key
// canary published in the rotation certificate before first use.
package workspace
