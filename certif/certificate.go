// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package certif

import (
	"fmt"

	"github.com/parsec-cloud/go-parsec/lib/codec"
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/sign"
)

// Kind tags carried in the payload "type" field.
const (
	kindUser                    = "user_certificate"
	kindDevice                  = "device_certificate"
	kindUserUpdate              = "user_update_certificate"
	kindRevokedUser             = "revoked_user_certificate"
	kindRealmRole               = "realm_role_certificate"
	kindRealmName               = "realm_name_certificate"
	kindRealmKeyRotation        = "realm_key_rotation_certificate"
	kindRealmArchiving          = "realm_archiving_certificate"
	kindShamirBrief             = "shamir_recovery_brief_certificate"
	kindShamirShare             = "shamir_recovery_share_certificate"
	kindShamirDeletion          = "shamir_recovery_deletion_certificate"
	kindSequesterAuthority      = "sequester_authority_certificate"
	kindSequesterService        = "sequester_service_certificate"
	kindSequesterRevokedService = "sequester_revoked_service_certificate"
)

// CertificateBase carries the fields every certificate variant shares.
// Kind is filled in by Sign; constructors leave it empty.
type CertificateBase struct {
	Kind      string     `cbor:"type"`
	Author    Author     `cbor:"author"`
	Timestamp dtime.Time `cbor:"timestamp"`
}

// Base returns the shared fields. Promoted onto every variant.
func (b CertificateBase) Base() CertificateBase { return b }

// Certificate is the closed sum of all certificate variants. Each
// variant is a pointer to its struct; the unexported method keeps the
// sum closed to this package.
type Certificate interface {
	// Base returns the author, timestamp, and kind tag.
	Base() CertificateBase
	// Topic returns the partition this certificate orders within.
	Topic() Topic

	kindTag() string
}

// KindOf returns the canonical wire tag of a certificate variant,
// e.g. "user_certificate". Stable; used as a storage column and in
// log output.
func KindOf(certificate Certificate) string { return certificate.kindTag() }

// Sign serializes the certificate payload (deterministic CBOR, with
// the variant's "type" tag filled in) and signs it with key. The
// returned bytes are the canonical wire form: payload ‖ signature.
//
// Sign mutates the certificate's Kind field to the canonical tag; all
// other fields are read only.
func Sign(key sign.SigningKey, certificate Certificate) ([]byte, error) {
	setKind(certificate)
	payload, err := codec.Marshal(certificate)
	if err != nil {
		return nil, fmt.Errorf("certif: encoding %s payload: %w", certificate.kindTag(), err)
	}
	return key.Sign(payload), nil
}

// VerifyAndDecode verifies the signature with the given key and
// decodes the payload. The caller is responsible for having resolved
// the correct key for the payload's claimed author (via UnsecureDecode
// plus a ledger lookup).
func VerifyAndDecode(signed []byte, key sign.VerifyKey) (Certificate, error) {
	payload, err := key.Open(signed)
	if err != nil {
		return nil, err
	}
	return decodePayload(payload)
}

// UnsecureDecode decodes the payload WITHOUT verifying the signature.
// The result is attacker-controlled until the same bytes pass
// VerifyAndDecode with the author's registered key; use it only to
// learn which key to look up.
func UnsecureDecode(signed []byte) (Certificate, error) {
	payload, err := sign.Payload(signed)
	if err != nil {
		return nil, err
	}
	return decodePayload(payload)
}

func decodePayload(payload []byte) (Certificate, error) {
	var envelope struct {
		Kind string `cbor:"type"`
	}
	if err := codec.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("certif: decoding payload envelope: %w", err)
	}

	certificate := emptyForKind(envelope.Kind)
	if certificate == nil {
		return nil, fmt.Errorf("certif: unknown certificate type %q", envelope.Kind)
	}
	if err := codec.Unmarshal(payload, certificate); err != nil {
		return nil, fmt.Errorf("certif: decoding %s: %w", envelope.Kind, err)
	}
	return certificate, nil
}

func emptyForKind(kind string) Certificate {
	switch kind {
	case kindUser:
		return &UserCertificate{}
	case kindDevice:
		return &DeviceCertificate{}
	case kindUserUpdate:
		return &UserUpdateCertificate{}
	case kindRevokedUser:
		return &RevokedUserCertificate{}
	case kindRealmRole:
		return &RealmRoleCertificate{}
	case kindRealmName:
		return &RealmNameCertificate{}
	case kindRealmKeyRotation:
		return &RealmKeyRotationCertificate{}
	case kindRealmArchiving:
		return &RealmArchivingCertificate{}
	case kindShamirBrief:
		return &ShamirRecoveryBriefCertificate{}
	case kindShamirShare:
		return &ShamirRecoveryShareCertificate{}
	case kindShamirDeletion:
		return &ShamirRecoveryDeletionCertificate{}
	case kindSequesterAuthority:
		return &SequesterAuthorityCertificate{}
	case kindSequesterService:
		return &SequesterServiceCertificate{}
	case kindSequesterRevokedService:
		return &SequesterRevokedServiceCertificate{}
	}
	return nil
}

func setKind(certificate Certificate) {
	tag := certificate.kindTag()
	switch c := certificate.(type) {
	case *UserCertificate:
		c.CertificateBase.Kind = tag
	case *DeviceCertificate:
		c.CertificateBase.Kind = tag
	case *UserUpdateCertificate:
		c.CertificateBase.Kind = tag
	case *RevokedUserCertificate:
		c.CertificateBase.Kind = tag
	case *RealmRoleCertificate:
		c.CertificateBase.Kind = tag
	case *RealmNameCertificate:
		c.CertificateBase.Kind = tag
	case *RealmKeyRotationCertificate:
		c.CertificateBase.Kind = tag
	case *RealmArchivingCertificate:
		c.CertificateBase.Kind = tag
	case *ShamirRecoveryBriefCertificate:
		c.CertificateBase.Kind = tag
	case *ShamirRecoveryShareCertificate:
		c.CertificateBase.Kind = tag
	case *ShamirRecoveryDeletionCertificate:
		c.CertificateBase.Kind = tag
	case *SequesterAuthorityCertificate:
		c.CertificateBase.Kind = tag
	case *SequesterServiceCertificate:
		c.CertificateBase.Kind = tag
	case *SequesterRevokedServiceCertificate:
		c.CertificateBase.Kind = tag
	}
}
