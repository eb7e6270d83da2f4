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

// activeBrief returns the user's newest recovery brief if it has not
// been deleted, or nil.
func (v *Validator) activeBrief(guard *certstore.ReadGuard, user ref.UserID, at dtime.Time) (*certif.ShamirRecoveryBriefCertificate, error) {
	brief, err := guard.GetLastShamirRecoveryBriefCertificate(user, at)
	switch {
	case errors.Is(err, certstore.ErrCertificateNotFound),
		errors.Is(err, certstore.ErrCertificateFromTheFuture):
		return nil, nil
	case err != nil:
		return nil, err
	}

	deletion, err := guard.GetLastShamirRecoveryDeletionCertificate(user, at)
	switch {
	case err == nil:
		if deletion.SetupTimestamp == brief.Base().Timestamp {
			return nil, nil
		}
	case errors.Is(err, certstore.ErrCertificateNotFound),
		errors.Is(err, certstore.ErrCertificateFromTheFuture):
	default:
		return nil, err
	}
	return brief, nil
}

func (v *Validator) validateShamirBrief(guard *certstore.ReadGuard, c *certif.ShamirRecoveryBriefCertificate, auth authority) error {
	kind := certif.KindOf(c)
	timestamp := c.Base().Timestamp

	if auth.user != c.UserID {
		return invalid(ReasonNotAllowed, kind,
			"recovery setup for %s authored by %s; setups are self-service", c.UserID, auth.user)
	}

	if len(c.Recipients) == 0 {
		return invalid(ReasonInvalidContent, kind, "no recipients")
	}
	if c.Threshold < 1 {
		return invalid(ReasonInvalidContent, kind, "threshold must be at least 1")
	}
	if int(c.Threshold) > c.TotalShares() {
		return invalid(ReasonInvalidContent, kind,
			"threshold %d exceeds total shares %d", c.Threshold, c.TotalShares())
	}
	if c.TotalShares() > 255 {
		return invalid(ReasonInvalidContent, kind, "total shares %d exceeds 255", c.TotalShares())
	}

	seen := make(map[ref.UserID]struct{}, len(c.Recipients))
	for _, recipient := range c.Recipients {
		if recipient.UserID == c.UserID {
			return invalid(ReasonInvalidContent, kind, "user %s cannot be their own recipient", c.UserID)
		}
		if recipient.Shares < 1 {
			return invalid(ReasonInvalidContent, kind, "recipient %s has zero shares", recipient.UserID)
		}
		if _, dup := seen[recipient.UserID]; dup {
			return invalid(ReasonInvalidContent, kind, "duplicate recipient %s", recipient.UserID)
		}
		seen[recipient.UserID] = struct{}{}

		exists, revoked, err := v.userKnownAt(guard, recipient.UserID, timestamp)
		if err != nil {
			return err
		}
		if !exists {
			return invalid(ReasonRelatedMissing, kind, "recipient %s is not in the ledger", recipient.UserID)
		}
		if revoked {
			return invalid(ReasonNotAllowed, kind, "recipient %s is revoked", recipient.UserID)
		}
	}

	existing, err := v.activeBrief(guard, c.UserID, timestamp)
	if err != nil {
		return err
	}
	if existing != nil {
		return invalid(ReasonAlreadyExists, kind,
			"user %s already has an active recovery setup from %s", c.UserID, existing.Base().Timestamp)
	}
	return nil
}

func (v *Validator) validateShamirShare(guard *certstore.ReadGuard, c *certif.ShamirRecoveryShareCertificate, auth authority) error {
	kind := certif.KindOf(c)
	timestamp := c.Base().Timestamp

	if auth.user != c.UserID {
		return invalid(ReasonNotAllowed, kind,
			"share for setup of %s authored by %s", c.UserID, auth.user)
	}
	if len(c.CiphertextShare) == 0 {
		return invalid(ReasonInvalidContent, kind, "empty ciphered share")
	}

	brief, err := guard.GetLastShamirRecoveryBriefCertificate(c.UserID, timestamp)
	if err != nil {
		if errors.Is(err, certstore.ErrCertificateNotFound) || errors.Is(err, certstore.ErrCertificateFromTheFuture) {
			return invalid(ReasonRelatedMissing, kind, "no recovery brief for user %s", c.UserID)
		}
		return err
	}
	// Shares bind to their setup through the shared timestamp.
	if brief.Base().Timestamp != timestamp {
		return invalid(ReasonRelatedMissing, kind,
			"share timestamp %s does not match setup %s", timestamp, brief.Base().Timestamp)
	}
	if brief.RecipientShares(c.Recipient) == 0 {
		return invalid(ReasonInvalidContent, kind,
			"recipient %s is not part of the setup", c.Recipient)
	}

	existing, err := guard.GetShamirRecoveryShareCertificate(c.UserID, c.Recipient, timestamp)
	switch {
	case err == nil:
		if existing.Base().Timestamp == timestamp {
			return invalid(ReasonAlreadyExists, kind,
				"recipient %s already has a share for this setup", c.Recipient)
		}
	case errors.Is(err, certstore.ErrCertificateNotFound),
		errors.Is(err, certstore.ErrCertificateFromTheFuture):
	default:
		return err
	}
	return nil
}

func (v *Validator) validateShamirDeletion(guard *certstore.ReadGuard, c *certif.ShamirRecoveryDeletionCertificate, auth authority) error {
	kind := certif.KindOf(c)
	timestamp := c.Base().Timestamp

	if auth.user != c.SetupUserID {
		return invalid(ReasonNotAllowed, kind,
			"deletion of %s's setup authored by %s", c.SetupUserID, auth.user)
	}

	brief, err := guard.GetLastShamirRecoveryBriefCertificate(c.SetupUserID, timestamp)
	if err != nil {
		if errors.Is(err, certstore.ErrCertificateNotFound) || errors.Is(err, certstore.ErrCertificateFromTheFuture) {
			return invalid(ReasonRelatedMissing, kind, "no recovery brief for user %s", c.SetupUserID)
		}
		return err
	}
	if brief.Base().Timestamp != c.SetupTimestamp {
		return invalid(ReasonRelatedMissing, kind,
			"deletion targets setup %s, newest is %s", c.SetupTimestamp, brief.Base().Timestamp)
	}

	// The deletion must name exactly the setup's recipients, so that
	// recipients can recognize their share is dead.
	if len(c.ShareRecipients) != len(brief.Recipients) {
		return invalid(ReasonInvalidContent, kind,
			"deletion lists %d recipients, setup has %d", len(c.ShareRecipients), len(brief.Recipients))
	}
	for _, recipient := range c.ShareRecipients {
		if brief.RecipientShares(recipient) == 0 {
			return invalid(ReasonInvalidContent, kind,
				"deletion lists %s who is not a setup recipient", recipient)
		}
	}

	deletion, err := guard.GetLastShamirRecoveryDeletionCertificate(c.SetupUserID, timestamp)
	switch {
	case err == nil:
		if deletion.SetupTimestamp == c.SetupTimestamp {
			return invalid(ReasonAlreadyExists, kind,
				"setup %s is already deleted", c.SetupTimestamp)
		}
	case errors.Is(err, certstore.ErrCertificateNotFound),
		errors.Is(err, certstore.ErrCertificateFromTheFuture):
	default:
		return err
	}
	return nil
}
