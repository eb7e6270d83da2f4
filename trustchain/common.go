// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package trustchain

import (
	"errors"

	"github.com/parsec-cloud/go-parsec/certif"
	"github.com/parsec-cloud/go-parsec/certstore"
)

func (v *Validator) validateUser(guard *certstore.ReadGuard, c *certif.UserCertificate, auth authority) error {
	kind := certif.KindOf(c)

	if !c.Profile.Valid() {
		return invalid(ReasonInvalidContent, kind, "unknown profile %q", c.Profile)
	}
	if c.PublicKey == "" {
		return invalid(ReasonInvalidContent, kind, "missing public key")
	}

	if auth.root {
		// Root only signs the organization's founding user, before
		// anything else exists in the common topic.
		if !guard.LastTimestamps().Common.IsZero() {
			return invalid(ReasonNotAllowed, kind,
				"root-signed user certificate after organization bootstrap")
		}
		if c.Profile != certif.ProfileAdmin {
			return invalid(ReasonInvalidContent, kind,
				"founding user must be ADMIN, got %s", c.Profile)
		}
	} else {
		profile, err := v.profileAt(guard, auth.user, c.Base().Timestamp, kind)
		if err != nil {
			return err
		}
		if profile != certif.ProfileAdmin {
			return invalid(ReasonNotAllowed, kind,
				"author %s has profile %s, needs ADMIN", auth.user, profile)
		}
	}

	_, err := guard.GetUserCertificate(c.UserID, 0)
	switch {
	case err == nil:
		return invalid(ReasonAlreadyExists, kind, "user %s already declared", c.UserID)
	case errors.Is(err, certstore.ErrCertificateNotFound):
		return nil
	}
	return err
}

func (v *Validator) validateDevice(guard *certstore.ReadGuard, c *certif.DeviceCertificate, auth authority) error {
	kind := certif.KindOf(c)
	timestamp := c.Base().Timestamp

	if c.VerifyKey.IsZero() {
		return invalid(ReasonInvalidContent, kind, "missing verify key")
	}

	userCert, err := guard.GetUserCertificate(c.UserID, timestamp)
	if err != nil {
		if errors.Is(err, certstore.ErrCertificateNotFound) || errors.Is(err, certstore.ErrCertificateFromTheFuture) {
			return invalid(ReasonRelatedMissing, kind, "user %s is not in the ledger", c.UserID)
		}
		return err
	}
	if revoked, err := v.revokedAt(guard, c.UserID, timestamp); err != nil {
		return err
	} else if revoked {
		return invalid(ReasonNotAllowed, kind, "user %s is revoked", c.UserID)
	}

	if auth.root {
		// Root only signs the founding user's first device.
		if !userCert.Base().Author.IsRoot() {
			return invalid(ReasonNotAllowed, kind,
				"root-signed device for a non-root user %s", c.UserID)
		}
		existing, err := guard.GetUserDeviceCertificates(c.UserID, 0)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return invalid(ReasonNotAllowed, kind,
				"root-signed device but user %s already has %d device(s)", c.UserID, len(existing))
		}
	} else if auth.user != c.UserID {
		profile, err := v.profileAt(guard, auth.user, timestamp, kind)
		if err != nil {
			return err
		}
		if profile != certif.ProfileAdmin {
			return invalid(ReasonNotAllowed, kind,
				"author %s may only register devices for themselves", auth.user)
		}
	}

	_, err = guard.GetDeviceCertificate(c.DeviceID, 0)
	switch {
	case err == nil:
		return invalid(ReasonAlreadyExists, kind, "device %s already declared", c.DeviceID)
	case errors.Is(err, certstore.ErrCertificateNotFound):
		return nil
	}
	return err
}

func (v *Validator) validateUserUpdate(guard *certstore.ReadGuard, c *certif.UserUpdateCertificate, auth authority) error {
	kind := certif.KindOf(c)
	timestamp := c.Base().Timestamp

	if !c.NewProfile.Valid() {
		return invalid(ReasonInvalidContent, kind, "unknown profile %q", c.NewProfile)
	}
	if auth.user == c.UserID {
		return invalid(ReasonNotAllowed, kind, "user %s cannot update their own profile", c.UserID)
	}

	profile, err := v.profileAt(guard, auth.user, timestamp, kind)
	if err != nil {
		return err
	}
	if profile != certif.ProfileAdmin {
		return invalid(ReasonNotAllowed, kind,
			"author %s has profile %s, needs ADMIN", auth.user, profile)
	}

	exists, revoked, err := v.userKnownAt(guard, c.UserID, timestamp)
	if err != nil {
		return err
	}
	if !exists {
		return invalid(ReasonRelatedMissing, kind, "user %s is not in the ledger", c.UserID)
	}
	if revoked {
		return invalid(ReasonNotAllowed, kind, "user %s is revoked", c.UserID)
	}
	return nil
}

func (v *Validator) validateRevokedUser(guard *certstore.ReadGuard, c *certif.RevokedUserCertificate, auth authority) error {
	kind := certif.KindOf(c)
	timestamp := c.Base().Timestamp

	if auth.user == c.UserID {
		return invalid(ReasonNotAllowed, kind, "user %s cannot revoke themselves", c.UserID)
	}

	profile, err := v.profileAt(guard, auth.user, timestamp, kind)
	if err != nil {
		return err
	}
	if profile != certif.ProfileAdmin {
		return invalid(ReasonNotAllowed, kind,
			"author %s has profile %s, needs ADMIN", auth.user, profile)
	}

	exists, revoked, err := v.userKnownAt(guard, c.UserID, timestamp)
	if err != nil {
		return err
	}
	if !exists {
		return invalid(ReasonRelatedMissing, kind, "user %s is not in the ledger", c.UserID)
	}
	if revoked {
		return invalid(ReasonAlreadyExists, kind, "user %s is already revoked", c.UserID)
	}
	return nil
}
