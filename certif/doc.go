// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

// Package certif defines the certificate data model: the signed,
// immutable, timestamped facts that make up the organization's trust
// ledger.
//
// A certificate's wire form is its deterministic-CBOR payload followed
// by the author's detached Ed25519 signature (see lib/sign). The
// payload always starts from CertificateBase — a "type" tag, the
// author, and the timestamp — plus variant-specific fields.
//
// Certificates partition into topics (common, sequester, one per
// realm, shamir), each with an independent causal order: within a
// topic, timestamps strictly increase with the server-assigned index.
// Enforcing that invariant is the job of trustchain and certstore;
// this package only models and (de)serializes the facts.
package certif
