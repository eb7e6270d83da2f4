// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package trustchain

import (
	"errors"

	"github.com/parsec-cloud/go-parsec/certif"
	"github.com/parsec-cloud/go-parsec/certstore"
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
)

// roleAt returns the user's realm role at the timestamp, or nil if
// the user has no access.
func (v *Validator) roleAt(guard *certstore.ReadGuard, realm ref.RealmID, user ref.UserID, at dtime.Time) (*certif.RealmRole, error) {
	last, err := guard.GetLastRealmRoleCertificate(realm, user, at)
	switch {
	case err == nil:
		return last.Role, nil
	case errors.Is(err, certstore.ErrCertificateNotFound),
		errors.Is(err, certstore.ErrCertificateFromTheFuture):
		return nil, nil
	}
	return nil, err
}

// ownerOnly checks that the author holds the Owner role in the realm.
func (v *Validator) ownerOnly(guard *certstore.ReadGuard, realm ref.RealmID, auth authority, at dtime.Time, kind string) error {
	role, err := v.roleAt(guard, realm, auth.user, at)
	if err != nil {
		return err
	}
	if role == nil || *role != certif.RealmRoleOwner {
		return invalid(ReasonNotAllowed, kind, "author %s is not an owner of realm %s", auth.user, realm)
	}
	return nil
}

func (v *Validator) validateRealmRole(guard *certstore.ReadGuard, c *certif.RealmRoleCertificate, auth authority) error {
	kind := certif.KindOf(c)
	timestamp := c.Base().Timestamp

	if c.Role != nil && !c.Role.Valid() {
		return invalid(ReasonInvalidContent, kind, "unknown role %q", *c.Role)
	}

	// A realm is born with its creator's self-signed Owner grant.
	if guard.LastTimestamps().ForTopic(certif.RealmTopic(c.RealmID)).IsZero() {
		if auth.user != c.UserID {
			return invalid(ReasonInvalidContent, kind,
				"realm %s first certificate must be self-signed", c.RealmID)
		}
		if c.Role == nil || *c.Role != certif.RealmRoleOwner {
			return invalid(ReasonInvalidContent, kind,
				"realm %s first certificate must grant OWNER", c.RealmID)
		}
		return nil
	}

	if auth.user == c.UserID {
		return invalid(ReasonNotAllowed, kind,
			"user %s cannot change their own role in realm %s", c.UserID, c.RealmID)
	}

	authorRole, err := v.roleAt(guard, c.RealmID, auth.user, timestamp)
	if err != nil {
		return err
	}
	if authorRole == nil || !authorRole.CanAdministrate() {
		return invalid(ReasonNotAllowed, kind,
			"author %s cannot administrate realm %s", auth.user, c.RealmID)
	}

	exists, revoked, err := v.userKnownAt(guard, c.UserID, timestamp)
	if err != nil {
		return err
	}
	if !exists {
		return invalid(ReasonRelatedMissing, kind, "user %s is not in the ledger", c.UserID)
	}
	if revoked && c.Role != nil {
		return invalid(ReasonNotAllowed, kind, "cannot grant a role to revoked user %s", c.UserID)
	}

	if c.Role != nil && c.Role.CanAdministrate() {
		profile, err := guard.GetCurrentProfile(c.UserID, timestamp)
		if err != nil {
			return err
		}
		if profile == certif.ProfileOutsider {
			return invalid(ReasonNotAllowed, kind,
				"outsider %s cannot hold role %s", c.UserID, *c.Role)
		}
	}

	// Managers operate below the administration line: they may only
	// touch Reader/Contributor grants, in both directions.
	if *authorRole == certif.RealmRoleManager {
		if c.Role != nil && c.Role.CanAdministrate() {
			return invalid(ReasonNotAllowed, kind,
				"manager %s cannot grant role %s", auth.user, *c.Role)
		}
		targetRole, err := v.roleAt(guard, c.RealmID, c.UserID, timestamp)
		if err != nil {
			return err
		}
		if targetRole != nil && targetRole.CanAdministrate() {
			return invalid(ReasonNotAllowed, kind,
				"manager %s cannot change role of %s %s", auth.user, *targetRole, c.UserID)
		}
	}

	return nil
}

func (v *Validator) validateRealmName(guard *certstore.ReadGuard, c *certif.RealmNameCertificate, auth authority) error {
	kind := certif.KindOf(c)
	timestamp := c.Base().Timestamp

	if len(c.EncryptedName) == 0 {
		return invalid(ReasonInvalidContent, kind, "empty encrypted name")
	}
	if err := v.ownerOnly(guard, c.RealmID, auth, timestamp, kind); err != nil {
		return err
	}

	// The name is encrypted with an already-rotated key.
	last, err := guard.GetLastRealmKeyRotationCertificate(c.RealmID, timestamp)
	if err != nil {
		if errors.Is(err, certstore.ErrCertificateNotFound) || errors.Is(err, certstore.ErrCertificateFromTheFuture) {
			return invalid(ReasonRelatedMissing, kind, "realm %s has no key yet", c.RealmID)
		}
		return err
	}
	if c.KeyIndex == 0 || c.KeyIndex > last.KeyIndex {
		return invalid(ReasonInvalidContent, kind,
			"key index %d out of range (realm at %d)", c.KeyIndex, last.KeyIndex)
	}
	return nil
}

func (v *Validator) validateRealmKeyRotation(guard *certstore.ReadGuard, c *certif.RealmKeyRotationCertificate, auth authority) error {
	kind := certif.KindOf(c)
	timestamp := c.Base().Timestamp

	if len(c.KeyCanary) == 0 {
		return invalid(ReasonInvalidContent, kind, "missing key canary")
	}
	if err := v.ownerOnly(guard, c.RealmID, auth, timestamp, kind); err != nil {
		return err
	}

	expected := uint64(1)
	last, err := guard.GetLastRealmKeyRotationCertificate(c.RealmID, timestamp)
	switch {
	case err == nil:
		expected = last.KeyIndex + 1
	case errors.Is(err, certstore.ErrCertificateNotFound),
		errors.Is(err, certstore.ErrCertificateFromTheFuture):
	default:
		return err
	}
	if c.KeyIndex != expected {
		return invalid(ReasonInvalidContent, kind,
			"key index %d, expected %d", c.KeyIndex, expected)
	}
	return nil
}

func (v *Validator) validateRealmArchiving(guard *certstore.ReadGuard, c *certif.RealmArchivingCertificate, auth authority) error {
	kind := certif.KindOf(c)
	timestamp := c.Base().Timestamp

	switch c.Configuration {
	case certif.RealmAvailable, certif.RealmArchived:
		if !c.DeletionDate.IsZero() {
			return invalid(ReasonInvalidContent, kind,
				"deletion date set with configuration %s", c.Configuration)
		}
	case certif.RealmDeletionPlanned:
		if !c.DeletionDate.After(timestamp) {
			return invalid(ReasonInvalidContent, kind,
				"deletion date %s is not in the future", c.DeletionDate)
		}
	default:
		return invalid(ReasonInvalidContent, kind, "unknown configuration %q", c.Configuration)
	}

	return v.ownerOnly(guard, c.RealmID, auth, timestamp, kind)
}
