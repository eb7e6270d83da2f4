// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package certif

import "github.com/parsec-cloud/go-parsec/lib/sign"

// SequesterAuthorityCertificate establishes the organization's
// sequester authority. Always root-signed, and must be the first (and
// only) authority certificate of the sequester topic.
type SequesterAuthorityCertificate struct {
	CertificateBase
	VerifyKey sign.VerifyKey `cbor:"verify_key"`
}

func (*SequesterAuthorityCertificate) kindTag() string { return kindSequesterAuthority }

// Topic implements Certificate.
func (*SequesterAuthorityCertificate) Topic() Topic { return SequesterTopic() }

// SequesterServiceCertificate registers a sequester service: an
// escrow recipient that receives a copy of realm key material.
// Signed by the sequester authority key, not by a device — the
// authority's signature is checked against the authority certificate.
type SequesterServiceCertificate struct {
	CertificateBase
	ServiceID    string `cbor:"service_id"`
	ServiceLabel string `cbor:"service_label"`
	// PublicKey is the service's asymmetric encryption public key.
	PublicKey string `cbor:"public_key"`
}

func (*SequesterServiceCertificate) kindTag() string { return kindSequesterService }

// Topic implements Certificate.
func (*SequesterServiceCertificate) Topic() Topic { return SequesterTopic() }

// SequesterRevokedServiceCertificate removes a sequester service.
type SequesterRevokedServiceCertificate struct {
	CertificateBase
	ServiceID string `cbor:"service_id"`
}

func (*SequesterRevokedServiceCertificate) kindTag() string { return kindSequesterRevokedService }

// Topic implements Certificate.
func (*SequesterRevokedServiceCertificate) Topic() Topic { return SequesterTopic() }
