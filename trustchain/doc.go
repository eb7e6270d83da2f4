// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

// Package trustchain validates certificates before they enter the
// local ledger.
//
// A certificate is valid when its signature checks out against its
// author's registered verify key AND the author had the authority to
// issue it at the certificate's timestamp, judging authority solely
// from certificates already accepted into the ledger. The organization
// root key is the trust anchor: it signs the first user, that user's
// first device, and (for sequestered organizations) the sequester
// authority; every later certificate chains back to it through device
// certificates.
//
// Validation is stream-ordered. Certificates arrive in server order
// per topic, and each one is judged against the ledger state produced
// by its predecessors, so a batch is validated by looping
// Validate-then-add. Any failure aborts the batch: a server that
// serves one bad certificate cannot be trusted for the rest.
package trustchain
