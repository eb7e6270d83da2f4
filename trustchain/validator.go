// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package trustchain

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/parsec-cloud/go-parsec/certif"
	"github.com/parsec-cloud/go-parsec/certstore"
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
	"github.com/parsec-cloud/go-parsec/lib/sign"
)

// Validator checks certificates against the ledger and the
// organization root key.
type Validator struct {
	rootKey sign.VerifyKey
	logger  *slog.Logger
}

// New creates a validator anchored on the organization root verify
// key.
func New(rootKey sign.VerifyKey, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Validator{rootKey: rootKey, logger: logger}
}

// authority describes the resolved signer of a certificate.
type authority struct {
	root bool
	user ref.UserID
}

// Validate decodes, verifies, and rule-checks one certificate against
// the ledger snapshot behind guard. On success it returns the decoded
// certificate, ready for certstore.AddNextCertificate. On failure the
// error is an *InvalidCertificateError (or a storage error if the
// ledger itself failed).
func (v *Validator) Validate(guard *certstore.ReadGuard, signed []byte) (certif.Certificate, error) {
	claimed, err := certif.UnsecureDecode(signed)
	if err != nil {
		return nil, &InvalidCertificateError{
			Reason: ReasonCorrupted, Detail: "payload does not decode", Err: err,
		}
	}
	kind := certif.KindOf(claimed)
	timestamp := claimed.Base().Timestamp
	topic := claimed.Topic()

	if timestamp.IsZero() {
		return nil, invalid(ReasonInvalidContent, kind, "missing timestamp")
	}

	watermark := guard.LastTimestamps().ForTopic(topic)
	ordered := timestamp.After(watermark)
	if topic == certif.ShamirTopic() {
		// A recovery setup's brief and shares carry one timestamp.
		ordered = !timestamp.Before(watermark)
	}
	if !ordered {
		return nil, invalid(ReasonOutOfOrder, kind,
			"timestamp %s not after topic %s watermark %s", timestamp, topic, watermark)
	}

	key, auth, err := v.resolveKey(guard, claimed, kind)
	if err != nil {
		return nil, err
	}

	// Authoritative decode: everything before this point worked on
	// unverified bytes.
	certificate, err := certif.VerifyAndDecode(signed, key)
	if err != nil {
		return nil, &InvalidCertificateError{
			Reason: ReasonBadSignature, Kind: kind,
			Detail: fmt.Sprintf("signature does not verify against key %s", key.Fingerprint()),
			Err:    err,
		}
	}

	switch c := certificate.(type) {
	case *certif.UserCertificate:
		err = v.validateUser(guard, c, auth)
	case *certif.DeviceCertificate:
		err = v.validateDevice(guard, c, auth)
	case *certif.UserUpdateCertificate:
		err = v.validateUserUpdate(guard, c, auth)
	case *certif.RevokedUserCertificate:
		err = v.validateRevokedUser(guard, c, auth)
	case *certif.RealmRoleCertificate:
		err = v.validateRealmRole(guard, c, auth)
	case *certif.RealmNameCertificate:
		err = v.validateRealmName(guard, c, auth)
	case *certif.RealmKeyRotationCertificate:
		err = v.validateRealmKeyRotation(guard, c, auth)
	case *certif.RealmArchivingCertificate:
		err = v.validateRealmArchiving(guard, c, auth)
	case *certif.ShamirRecoveryBriefCertificate:
		err = v.validateShamirBrief(guard, c, auth)
	case *certif.ShamirRecoveryShareCertificate:
		err = v.validateShamirShare(guard, c, auth)
	case *certif.ShamirRecoveryDeletionCertificate:
		err = v.validateShamirDeletion(guard, c, auth)
	case *certif.SequesterAuthorityCertificate:
		err = v.validateSequesterAuthority(guard, c)
	case *certif.SequesterServiceCertificate:
		err = v.validateSequesterService(guard, c)
	case *certif.SequesterRevokedServiceCertificate:
		err = v.validateSequesterRevokedService(guard, c)
	}
	if err != nil {
		return nil, err
	}

	return certificate, nil
}

// resolveKey finds the verify key the certificate's signature must
// check against, and who that key belongs to.
func (v *Validator) resolveKey(guard *certstore.ReadGuard, claimed certif.Certificate, kind string) (sign.VerifyKey, authority, error) {
	base := claimed.Base()

	if base.Author.IsRoot() {
		switch claimed.(type) {
		case *certif.UserCertificate, *certif.DeviceCertificate, *certif.SequesterAuthorityCertificate:
			// Organization bootstrap; per-kind rules confirm the
			// ledger is actually in a bootstrap state.
			return v.rootKey, authority{root: true}, nil
		case *certif.SequesterServiceCertificate, *certif.SequesterRevokedServiceCertificate:
			// Signed by the sequester authority key, not a device.
			authorityCert, err := guard.GetSequesterAuthorityCertificate(base.Timestamp)
			if err != nil {
				if errors.Is(err, certstore.ErrCertificateNotFound) || errors.Is(err, certstore.ErrCertificateFromTheFuture) {
					return sign.VerifyKey{}, authority{}, invalid(ReasonRelatedMissing, kind,
						"no sequester authority established")
				}
				return sign.VerifyKey{}, authority{}, err
			}
			return authorityCert.VerifyKey, authority{root: true}, nil
		}
		return sign.VerifyKey{}, authority{}, invalid(ReasonNotAllowed, kind,
			"root signature is only valid during organization bootstrap")
	}

	device, _ := base.Author.Device()
	deviceCert, err := guard.GetDeviceCertificate(device, base.Timestamp)
	if err != nil {
		switch {
		case errors.Is(err, certstore.ErrCertificateFromTheFuture):
			return sign.VerifyKey{}, authority{}, invalid(ReasonOlderThanAuthor, kind,
				"certificate predates its author device %s", device)
		case errors.Is(err, certstore.ErrCertificateNotFound):
			return sign.VerifyKey{}, authority{}, invalid(ReasonUnknownAuthor, kind,
				"author device %s is not in the ledger", device)
		}
		return sign.VerifyKey{}, authority{}, err
	}

	if revoked, err := v.revokedAt(guard, deviceCert.UserID, base.Timestamp); err != nil {
		return sign.VerifyKey{}, authority{}, err
	} else if revoked {
		return sign.VerifyKey{}, authority{}, invalid(ReasonRevokedAuthor, kind,
			"author user %s was revoked", deviceCert.UserID)
	}

	return deviceCert.VerifyKey, authority{user: deviceCert.UserID}, nil
}

// revokedAt reports whether the user was revoked at or before the
// given timestamp.
func (v *Validator) revokedAt(guard *certstore.ReadGuard, user ref.UserID, at dtime.Time) (bool, error) {
	_, err := guard.GetRevokedUserCertificate(user, at)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, certstore.ErrCertificateNotFound),
		errors.Is(err, certstore.ErrCertificateFromTheFuture):
		return false, nil
	}
	return false, err
}

// profileAt returns the user's effective profile at the timestamp, or
// an InvalidCertificateError if the user is not in the ledger.
func (v *Validator) profileAt(guard *certstore.ReadGuard, user ref.UserID, at dtime.Time, kind string) (certif.Profile, error) {
	profile, err := guard.GetCurrentProfile(user, at)
	if err != nil {
		if errors.Is(err, certstore.ErrCertificateNotFound) || errors.Is(err, certstore.ErrCertificateFromTheFuture) {
			return "", invalid(ReasonUnknownAuthor, kind, "user %s is not in the ledger", user)
		}
		return "", err
	}
	return profile, nil
}

// userKnownAt reports whether a target user exists at the timestamp
// and whether they are revoked.
func (v *Validator) userKnownAt(guard *certstore.ReadGuard, user ref.UserID, at dtime.Time) (exists, revoked bool, err error) {
	_, err = guard.GetUserCertificate(user, at)
	switch {
	case err == nil:
	case errors.Is(err, certstore.ErrCertificateNotFound),
		errors.Is(err, certstore.ErrCertificateFromTheFuture):
		return false, false, nil
	default:
		return false, false, err
	}
	revoked, err = v.revokedAt(guard, user, at)
	return true, revoked, err
}
