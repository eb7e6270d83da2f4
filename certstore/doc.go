// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

// Package certstore persists the validated certificate ledger in a
// local SQLite database.
//
// The store is append-only per topic: certificates are added in
// server-stream order with strictly increasing timestamps, and every
// stored blob has already passed trustchain validation. Readers
// therefore decode stored certificates without re-verifying
// signatures.
//
// Access goes through guards. Store.ForRead returns a ReadGuard and
// holds a shared lock; Store.ForWrite returns a WriteGuard and holds
// the exclusive lock. The lock spans the whole guard lifetime so that
// a multi-query read (say, "user's profile plus their realm roles")
// observes one consistent snapshot even while a poll loop is appending
// in another goroutine.
package certstore
