// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the client's standard SQLite connection
// pool.
//
// Both local databases — the certificate ledger and the per-workspace
// manifest store — open through this package. It wraps
// zombiezen.com/go/sqlite with client-appropriate defaults: WAL
// journal mode, NORMAL synchronous (transactions survive process
// crashes; the server is the source of truth for anything lost in an
// OS crash), busy timeout for write contention, and an in-memory
// temp store.
//
// The pool is built on zombiezen's sqlitex.Pool. Callers [Pool.Take]
// a connection, perform work, and [Pool.Put] it back. Connections are
// NOT safe for concurrent use — each goroutine holds its own
// connection for the duration of its work.
//
// The package is intentionally thin: standard pragmas, the pool
// pattern, nothing else. Callers write SQL and manage transactions
// with sqlitex directly.
package sqlitepool
