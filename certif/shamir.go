// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package certif

import (
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
)

// ShamirRecipient is one entry of a recovery brief: a recipient and
// the number of shares weighted to them.
type ShamirRecipient struct {
	UserID ref.UserID `cbor:"user_id"`
	// Shares is the recipient's weight; a recipient holding k shares
	// contributes k toward the threshold.
	Shares uint8 `cbor:"shares"`
}

// ShamirRecoveryBriefCertificate announces a user's recovery setup:
// which recipients hold shares and how many of those shares
// reconstruct the secret. The certificate is visible to all
// recipients; the share payloads travel in separate per-recipient
// share certificates.
type ShamirRecoveryBriefCertificate struct {
	CertificateBase
	// UserID is the user being protected (always the author's user).
	UserID     ref.UserID        `cbor:"user_id"`
	Threshold  uint8             `cbor:"threshold"`
	Recipients []ShamirRecipient `cbor:"per_recipient_shares"`
}

func (*ShamirRecoveryBriefCertificate) kindTag() string { return kindShamirBrief }

// Topic implements Certificate.
func (*ShamirRecoveryBriefCertificate) Topic() Topic { return ShamirTopic() }

// TotalShares sums all recipients' weights.
func (c *ShamirRecoveryBriefCertificate) TotalShares() int {
	total := 0
	for _, recipient := range c.Recipients {
		total += int(recipient.Shares)
	}
	return total
}

// RecipientShares returns the weight assigned to a recipient, or 0.
func (c *ShamirRecoveryBriefCertificate) RecipientShares(user ref.UserID) uint8 {
	for _, recipient := range c.Recipients {
		if recipient.UserID == user {
			return recipient.Shares
		}
	}
	return 0
}

// ShamirRecoveryShareCertificate carries one recipient's share of a
// recovery setup, sealed to the recipient's public key. Must be
// submitted in the same batch as its brief and carry the identical
// timestamp — the (user, timestamp) pair ties shares to their setup.
type ShamirRecoveryShareCertificate struct {
	CertificateBase
	UserID    ref.UserID `cbor:"user_id"`
	Recipient ref.UserID `cbor:"recipient"`
	// CiphertextShare is sealed to the recipient; contains the
	// recipient's weighted share(s) of the recovery secret.
	CiphertextShare []byte `cbor:"ciphered_share"`
}

func (*ShamirRecoveryShareCertificate) kindTag() string { return kindShamirShare }

// Topic implements Certificate.
func (*ShamirRecoveryShareCertificate) Topic() Topic { return ShamirTopic() }

// ShamirRecoveryDeletionCertificate invalidates a previous setup,
// identified by its brief's (author user, timestamp). After deletion
// the user may create a new setup.
type ShamirRecoveryDeletionCertificate struct {
	CertificateBase
	// SetupUserID and SetupTimestamp identify the brief being deleted.
	SetupUserID    ref.UserID `cbor:"setup_user_id"`
	SetupTimestamp dtime.Time `cbor:"setup_timestamp"`
	// ShareRecipients lists the recipients of the deleted setup, so
	// recipients learn their share is dead without decrypting
	// anything.
	ShareRecipients []ref.UserID `cbor:"share_recipients"`
}

func (*ShamirRecoveryDeletionCertificate) kindTag() string { return kindShamirDeletion }

// Topic implements Certificate.
func (*ShamirRecoveryDeletionCertificate) Topic() Topic { return ShamirTopic() }
