// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

// Package certops orchestrates the certificate ledger: it is the only
// component that fetches certificates from the server and the only
// writer to the certificate store.
//
// The poll path (PollServerForNewCertificates, driven periodically by
// RunMonitor) fetches everything newer than the local per-topic
// watermarks, validates each certificate in stream order with
// trustchain, and appends it. A single invalid certificate aborts the
// batch and raises EventInvalidCertificate: the server claimed the
// batch was a consistent snapshot, so one bad entry poisons the rest.
//
// Every other subsystem reads trust facts (profiles, realm roles,
// recovery setups, watermarks) through this package's query surface,
// and obtains operation timestamps through GreaterTimestamp, which
// keeps per-purpose monotonic candidates for the server's
// retry-with-a-greater-timestamp protocol.
package certops
