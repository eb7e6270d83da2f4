// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

// Package dtime provides the timestamp type used in certificates,
// manifests, and protocol messages.
//
// Timestamps are microseconds since the Unix epoch, always UTC. The
// integer representation gives three things time.Time does not:
// deterministic CBOR bytes (a plain int64, no timezone or monotonic
// clock leakage into signed payloads), total ordering with ordinary
// comparison operators, and exact round-trips through SQLite integer
// columns.
package dtime
