// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package certops

import (
	"context"
	"errors"
	"fmt"

	"github.com/parsec-cloud/go-parsec/certif"
	"github.com/parsec-cloud/go-parsec/certstore"
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
	"github.com/parsec-cloud/go-parsec/lib/sign"
)

// GetLastTimestamps returns the local ledger's per-topic watermarks.
func (o *Ops) GetLastTimestamps() certif.PerTopicLastTimestamps {
	return o.store.LastTimestamps()
}

// GetCurrentSelfProfile returns the local user's effective profile.
func (o *Ops) GetCurrentSelfProfile(ctx context.Context) (certif.Profile, error) {
	return o.GetCurrentUserProfile(ctx, o.selfUser)
}

// GetCurrentUserProfile returns a user's effective profile: the one
// from their user certificate, overridden by their latest profile
// update.
func (o *Ops) GetCurrentUserProfile(ctx context.Context, user ref.UserID) (certif.Profile, error) {
	guard, err := o.store.ForRead(ctx)
	if err != nil {
		return "", fmt.Errorf("certops: %w", err)
	}
	defer guard.Release()
	return guard.GetCurrentProfile(user, 0)
}

// GetDeviceVerifyKey returns the signature verify key a device
// registered, bounded to certificates known at upTo (zero for the full
// ledger).
func (o *Ops) GetDeviceVerifyKey(ctx context.Context, device ref.DeviceID, upTo dtime.Time) (sign.VerifyKey, error) {
	guard, err := o.store.ForRead(ctx)
	if err != nil {
		return sign.VerifyKey{}, fmt.Errorf("certops: %w", err)
	}
	defer guard.Release()

	certificate, err := guard.GetDeviceCertificate(device, upTo)
	if err != nil {
		return sign.VerifyKey{}, err
	}
	return certificate.VerifyKey, nil
}

// GetUserPublicKey returns the asymmetric encryption public key
// (age1... form) a user registered, for sealing keys-bundle accesses
// and recovery shares to them.
func (o *Ops) GetUserPublicKey(ctx context.Context, user ref.UserID) (string, error) {
	guard, err := o.store.ForRead(ctx)
	if err != nil {
		return "", fmt.Errorf("certops: %w", err)
	}
	defer guard.Release()

	certificate, err := guard.GetUserCertificate(user, 0)
	if err != nil {
		return "", err
	}
	return certificate.PublicKey, nil
}

// IsUserRevoked reports whether the user has been revoked.
func (o *Ops) IsUserRevoked(ctx context.Context, user ref.UserID) (bool, error) {
	guard, err := o.store.ForRead(ctx)
	if err != nil {
		return false, fmt.Errorf("certops: %w", err)
	}
	defer guard.Release()

	_, err = guard.GetRevokedUserCertificate(user, 0)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, certstore.ErrCertificateNotFound):
		return false, nil
	}
	return false, err
}

// GetUserRealmRole returns a user's current role in a realm, or nil if
// the user has no access (never granted, or since removed).
func (o *Ops) GetUserRealmRole(ctx context.Context, realm ref.RealmID, user ref.UserID) (*certif.RealmRole, error) {
	guard, err := o.store.ForRead(ctx)
	if err != nil {
		return nil, fmt.Errorf("certops: %w", err)
	}
	defer guard.Release()

	certificate, err := guard.GetLastRealmRoleCertificate(realm, user, 0)
	switch {
	case err == nil:
		return certificate.Role, nil
	case errors.Is(err, certstore.ErrCertificateNotFound):
		return nil, nil
	}
	return nil, err
}

// GetRealmRoles reduces a realm's role history to its current members:
// the last certificate per user wins, users whose last certificate
// carries a nil role are dropped.
func (o *Ops) GetRealmRoles(ctx context.Context, realm ref.RealmID) (map[ref.UserID]certif.RealmRole, error) {
	guard, err := o.store.ForRead(ctx)
	if err != nil {
		return nil, fmt.Errorf("certops: %w", err)
	}
	defer guard.Release()

	history, err := guard.GetRealmRoleCertificates(realm, 0)
	if err != nil {
		return nil, err
	}

	roles := make(map[ref.UserID]certif.RealmRole)
	for _, certificate := range history {
		if certificate.Role == nil {
			delete(roles, certificate.UserID)
			continue
		}
		roles[certificate.UserID] = *certificate.Role
	}
	return roles, nil
}

// GetSelfRealms returns every realm the local user currently has a
// role in, with that role.
func (o *Ops) GetSelfRealms(ctx context.Context) (map[ref.RealmID]certif.RealmRole, error) {
	guard, err := o.store.ForRead(ctx)
	if err != nil {
		return nil, fmt.Errorf("certops: %w", err)
	}
	defer guard.Release()

	history, err := guard.GetUserRealmRoleCertificates(o.selfUser, 0)
	if err != nil {
		return nil, err
	}

	realms := make(map[ref.RealmID]certif.RealmRole)
	for _, certificate := range history {
		if certificate.Role == nil {
			delete(realms, certificate.RealmID)
			continue
		}
		realms[certificate.RealmID] = *certificate.Role
	}
	return realms, nil
}

// GetLastRealmKeyRotation returns the realm's newest key rotation, or
// nil when the realm has no keys yet.
func (o *Ops) GetLastRealmKeyRotation(ctx context.Context, realm ref.RealmID) (*certif.RealmKeyRotationCertificate, error) {
	guard, err := o.store.ForRead(ctx)
	if err != nil {
		return nil, fmt.Errorf("certops: %w", err)
	}
	defer guard.Release()

	certificate, err := guard.GetLastRealmKeyRotationCertificate(realm, 0)
	if errors.Is(err, certstore.ErrCertificateNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return certificate, nil
}

// GetRealmKeyRotation returns the rotation that introduced a specific
// key index.
func (o *Ops) GetRealmKeyRotation(ctx context.Context, realm ref.RealmID, keyIndex uint64) (*certif.RealmKeyRotationCertificate, error) {
	guard, err := o.store.ForRead(ctx)
	if err != nil {
		return nil, fmt.Errorf("certops: %w", err)
	}
	defer guard.Release()
	return guard.GetRealmKeyRotationCertificate(realm, keyIndex, 0)
}

// HasRealmName reports whether the realm has received its initial
// name certificate.
func (o *Ops) HasRealmName(ctx context.Context, realm ref.RealmID) (bool, error) {
	guard, err := o.store.ForRead(ctx)
	if err != nil {
		return false, fmt.Errorf("certops: %w", err)
	}
	defer guard.Release()

	_, err = guard.GetLastRealmNameCertificate(realm, 0)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, certstore.ErrCertificateNotFound):
		return false, nil
	}
	return false, err
}

// RecoverySetup is a user's active shamir recovery setup, as seen by
// the local ledger.
type RecoverySetup struct {
	Brief *certif.ShamirRecoveryBriefCertificate
	// SelfShare is the share sealed to the local user, nil when the
	// local user is not a recipient.
	SelfShare *certif.ShamirRecoveryShareCertificate
}

// GetActiveRecoverySetup returns the user's active recovery setup
// (newest brief not covered by a matching deletion), or nil when none
// is active.
func (o *Ops) GetActiveRecoverySetup(ctx context.Context, user ref.UserID) (*RecoverySetup, error) {
	guard, err := o.store.ForRead(ctx)
	if err != nil {
		return nil, fmt.Errorf("certops: %w", err)
	}
	defer guard.Release()

	brief, err := guard.GetLastShamirRecoveryBriefCertificate(user, 0)
	if errors.Is(err, certstore.ErrCertificateNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	deletion, err := guard.GetLastShamirRecoveryDeletionCertificate(user, 0)
	switch {
	case err == nil:
		if deletion.SetupTimestamp == brief.Base().Timestamp {
			return nil, nil
		}
	case errors.Is(err, certstore.ErrCertificateNotFound):
	default:
		return nil, err
	}

	setup := &RecoverySetup{Brief: brief}
	if brief.RecipientShares(o.selfUser) > 0 {
		share, err := guard.GetShamirRecoveryShareCertificate(user, o.selfUser, 0)
		if err != nil {
			return nil, err
		}
		setup.SelfShare = share
	}
	return setup, nil
}
