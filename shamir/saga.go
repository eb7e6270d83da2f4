// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package shamir

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/parsec-cloud/go-parsec/certif"
	"github.com/parsec-cloud/go-parsec/certops"
	"github.com/parsec-cloud/go-parsec/certstore"
	"github.com/parsec-cloud/go-parsec/device"
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
	"github.com/parsec-cloud/go-parsec/transport"
)

// maxSetupAttempts bounds the timestamp retry loops of the setup and
// deletion protocols.
const maxSetupAttempts = 8

var (
	// ErrAlreadySetUp is returned when an active setup exists; it must
	// be deleted before a new one can be created.
	ErrAlreadySetUp = errors.New("shamir: an active recovery setup already exists")

	// ErrNoActiveSetup is returned by Delete when there is nothing to
	// delete.
	ErrNoActiveSetup = errors.New("shamir: no active recovery setup")

	// ErrSelfRecipient is returned when the recipient list includes the
	// user being protected.
	ErrSelfRecipient = errors.New("shamir: the protected user cannot be a recipient")

	// ErrUnknownRecipient is returned for a recipient with no user
	// certificate in the local ledger.
	ErrUnknownRecipient = errors.New("shamir: unknown recipient")

	// ErrRevokedRecipient is returned for a revoked recipient.
	ErrRevokedRecipient = errors.New("shamir: revoked recipient")
)

// Config holds the dependencies of Manager.
type Config struct {
	Ops    *certops.Ops
	Client transport.Client
	Device *device.LocalDevice
	Logger *slog.Logger
}

// Manager runs the recovery setup and deletion protocols for the local
// user.
type Manager struct {
	ops    *certops.Ops
	client transport.Client
	device *device.LocalDevice
	logger *slog.Logger
}

// New creates the manager. All Config fields are required.
func New(cfg Config) (*Manager, error) {
	switch {
	case cfg.Ops == nil:
		return nil, fmt.Errorf("shamir: Ops is required")
	case cfg.Client == nil:
		return nil, fmt.Errorf("shamir: Client is required")
	case cfg.Device == nil:
		return nil, fmt.Errorf("shamir: Device is required")
	case cfg.Logger == nil:
		return nil, fmt.Errorf("shamir: Logger is required")
	}
	return &Manager{
		ops:    cfg.Ops,
		client: cfg.Client,
		device: cfg.Device,
		logger: cfg.Logger,
	}, nil
}

// SetupParams describes a recovery setup: how many shares reconstruct
// the secret, and each recipient's share weight.
type SetupParams struct {
	Threshold  uint8
	Recipients map[ref.UserID]uint8
}

// recoveryDeviceLabel is the label of the device registered for a
// recovery setup.
const recoveryDeviceLabel = "recovery"

// Setup creates a recovery setup: registers a fresh recovery device,
// splits a secret across the recipients, and atomically publishes the
// brief, the per-recipient share certificates and the recovery device
// identity ciphered with the secret-derived key.
func (m *Manager) Setup(ctx context.Context, params SetupParams) error {
	recipients, err := m.validateParams(ctx, params)
	if err != nil {
		return err
	}

	active, err := m.ops.GetActiveRecoverySetup(ctx, m.ops.SelfUser())
	if err != nil {
		return err
	}
	if active != nil {
		return ErrAlreadySetUp
	}

	recoveryDev, err := device.Generate(m.ops.SelfUser(), m.device.RootVerifyKey, m.device.Profile)
	if err != nil {
		return err
	}
	if err := m.registerRecoveryDevice(ctx, recoveryDev); err != nil {
		return err
	}

	total := 0
	for _, r := range recipients {
		total += int(r.Shares)
	}
	dataKey, shares, err := DealSecret(params.Threshold, uint8(total))
	if err != nil {
		return err
	}

	identity, err := device.Encode(recoveryDev)
	if err != nil {
		return err
	}
	cipheredData, err := dataKey.Encrypt(identity)
	if err != nil {
		return fmt.Errorf("shamir: ciphering recovery identity: %w", err)
	}

	// Shares are handed out in recipient order, each recipient taking
	// their weight's worth of consecutive shares.
	sealedShares := make(map[ref.UserID][]byte, len(recipients))
	next := 0
	for _, recipient := range recipients {
		publicKey, err := m.ops.GetUserPublicKey(ctx, recipient.UserID)
		if err != nil {
			return err
		}
		slice := shares[next : next+int(recipient.Shares)]
		next += int(recipient.Shares)
		sealedShares[recipient.UserID], err = SealShares(publicKey, slice)
		if err != nil {
			return err
		}
	}

	var floor dtime.Time
	for attempt := 0; attempt < maxSetupAttempts; attempt++ {
		timestamp := m.ops.GreaterTimestamp(certops.PurposeShamirSetup, floor)
		request, err := m.buildSetupRequest(timestamp, params.Threshold, recipients, sealedShares, cipheredData)
		if err != nil {
			return err
		}

		reply, err := m.client.ShamirRecoverySetup(ctx, request)
		if err != nil {
			return fmt.Errorf("shamir: submitting recovery setup: %w", err)
		}

		switch r := reply.(type) {
		case transport.ShamirSetupOK:
			if _, err := m.ops.PollServerForNewCertificates(ctx, nil); err != nil {
				return err
			}
			m.logger.Info("recovery setup published",
				"recovery_device", recoveryDev.DeviceID,
				"recipients", len(recipients),
				"threshold", params.Threshold)
			return nil
		// For these two stale-view rejections the certificates are
		// caught up and the error returned directly: re-running the
		// local checks against the fresh ledger would deterministically
		// reach the same conclusion the server just announced.
		case transport.ShamirSetupAlreadyExists:
			if err := m.ops.EnsureCertificatesUpTo(ctx, certif.PerTopicLastTimestamps{
				Shamir: r.LastShamirCertificateTimestamp,
			}); err != nil {
				return err
			}
			return ErrAlreadySetUp
		case transport.ShamirSetupRevokedRecipient:
			if err := m.ops.EnsureCertificatesUpTo(ctx, certif.PerTopicLastTimestamps{
				Common: r.LastCommonCertificateTimestamp,
			}); err != nil {
				return err
			}
			return ErrRevokedRecipient
		case transport.RequireGreaterTimestamp:
			floor = r.StrictlyGreaterThan
		case transport.TimestampOutOfBallpark:
			return m.ops.ReportTimestampOutOfBallpark(r)
		default:
			return fmt.Errorf("shamir: unexpected setup reply %T", reply)
		}
	}
	return fmt.Errorf("shamir: recovery setup exhausted its retries")
}

// validateParams checks the threshold arithmetic and every recipient,
// returning the recipients in deterministic order.
func (m *Manager) validateParams(ctx context.Context, params SetupParams) ([]certif.ShamirRecipient, error) {
	if len(params.Recipients) == 0 {
		return nil, fmt.Errorf("shamir: at least one recipient is required")
	}
	total := 0
	for user, weight := range params.Recipients {
		if weight == 0 {
			return nil, fmt.Errorf("shamir: recipient %s has a zero share weight", user)
		}
		if user == m.ops.SelfUser() {
			return nil, ErrSelfRecipient
		}
		total += int(weight)
	}
	if total > 255 {
		return nil, fmt.Errorf("shamir: %d total shares exceeds the limit of 255", total)
	}
	if params.Threshold == 0 || int(params.Threshold) > total {
		return nil, ErrBadThreshold
	}

	recipients := make([]certif.ShamirRecipient, 0, len(params.Recipients))
	for user, weight := range params.Recipients {
		if _, err := m.ops.GetCurrentUserProfile(ctx, user); err != nil {
			if errors.Is(err, certstore.ErrCertificateNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownRecipient, user)
			}
			return nil, err
		}
		revoked, err := m.ops.IsUserRevoked(ctx, user)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, fmt.Errorf("%w: %s", ErrRevokedRecipient, user)
		}
		recipients = append(recipients, certif.ShamirRecipient{UserID: user, Shares: weight})
	}
	sort.Slice(recipients, func(i, j int) bool {
		return recipients[i].UserID.String() < recipients[j].UserID.String()
	})
	return recipients, nil
}

// registerRecoveryDevice publishes the recovery device's certificate,
// in full and redacted forms, signed by the local device.
func (m *Manager) registerRecoveryDevice(ctx context.Context, recoveryDev *device.LocalDevice) error {
	var floor dtime.Time
	for attempt := 0; attempt < maxSetupAttempts; attempt++ {
		timestamp := m.ops.GreaterTimestamp(certops.PurposeDeviceCreation, floor)
		label := recoveryDeviceLabel
		signed, err := certif.Sign(m.device.SigningKey, &certif.DeviceCertificate{
			CertificateBase: certif.CertificateBase{
				Author:    m.device.Author(),
				Timestamp: timestamp,
			},
			UserID:      recoveryDev.UserID,
			DeviceID:    recoveryDev.DeviceID,
			DeviceLabel: &label,
			VerifyKey:   recoveryDev.VerifyKey(),
		})
		if err != nil {
			return err
		}
		redacted, err := certif.Sign(m.device.SigningKey, &certif.DeviceCertificate{
			CertificateBase: certif.CertificateBase{
				Author:    m.device.Author(),
				Timestamp: timestamp,
			},
			UserID:    recoveryDev.UserID,
			DeviceID:  recoveryDev.DeviceID,
			VerifyKey: recoveryDev.VerifyKey(),
		})
		if err != nil {
			return err
		}

		reply, err := m.client.DeviceCreate(ctx, transport.DeviceCreateRequest{
			SignedDevice:         signed,
			RedactedSignedDevice: redacted,
		})
		if err != nil {
			return fmt.Errorf("shamir: registering recovery device: %w", err)
		}

		switch r := reply.(type) {
		case transport.DeviceCreateOK:
			_, err := m.ops.PollServerForNewCertificates(ctx, nil)
			return err
		case transport.DeviceCreateAlreadyExists:
			return fmt.Errorf("shamir: recovery device id %s is already registered", recoveryDev.DeviceID)
		case transport.RequireGreaterTimestamp:
			floor = r.StrictlyGreaterThan
		case transport.TimestampOutOfBallpark:
			return m.ops.ReportTimestampOutOfBallpark(r)
		default:
			return fmt.Errorf("shamir: unexpected device create reply %T", reply)
		}
	}
	return fmt.Errorf("shamir: recovery device registration exhausted its retries")
}

// buildSetupRequest signs the brief and every share certificate at a
// single timestamp, which is what ties them together.
func (m *Manager) buildSetupRequest(
	timestamp dtime.Time,
	threshold uint8,
	recipients []certif.ShamirRecipient,
	sealedShares map[ref.UserID][]byte,
	cipheredData []byte,
) (transport.ShamirRecoverySetupRequest, error) {
	signedBrief, err := certif.Sign(m.device.SigningKey, &certif.ShamirRecoveryBriefCertificate{
		CertificateBase: certif.CertificateBase{
			Author:    m.device.Author(),
			Timestamp: timestamp,
		},
		UserID:     m.ops.SelfUser(),
		Threshold:  threshold,
		Recipients: recipients,
	})
	if err != nil {
		return transport.ShamirRecoverySetupRequest{}, err
	}

	signedShares := make([][]byte, 0, len(recipients))
	for _, recipient := range recipients {
		signed, err := certif.Sign(m.device.SigningKey, &certif.ShamirRecoveryShareCertificate{
			CertificateBase: certif.CertificateBase{
				Author:    m.device.Author(),
				Timestamp: timestamp,
			},
			UserID:          m.ops.SelfUser(),
			Recipient:       recipient.UserID,
			CiphertextShare: sealedShares[recipient.UserID],
		})
		if err != nil {
			return transport.ShamirRecoverySetupRequest{}, err
		}
		signedShares = append(signedShares, signed)
	}

	return transport.ShamirRecoverySetupRequest{
		SignedBrief:  signedBrief,
		SignedShares: signedShares,
		CipheredData: cipheredData,
	}, nil
}

// Delete invalidates the local user's active recovery setup. The
// recovery device stays registered but its ciphered identity becomes
// unreachable once recipients discard their dead shares.
func (m *Manager) Delete(ctx context.Context) error {
	setup, err := m.ops.GetActiveRecoverySetup(ctx, m.ops.SelfUser())
	if err != nil {
		return err
	}
	if setup == nil {
		return ErrNoActiveSetup
	}

	shareRecipients := make([]ref.UserID, 0, len(setup.Brief.Recipients))
	for _, recipient := range setup.Brief.Recipients {
		shareRecipients = append(shareRecipients, recipient.UserID)
	}

	var floor dtime.Time
	for attempt := 0; attempt < maxSetupAttempts; attempt++ {
		signed, err := certif.Sign(m.device.SigningKey, &certif.ShamirRecoveryDeletionCertificate{
			CertificateBase: certif.CertificateBase{
				Author:    m.device.Author(),
				Timestamp: m.ops.GreaterTimestamp(certops.PurposeShamirSetup, floor),
			},
			SetupUserID:     m.ops.SelfUser(),
			SetupTimestamp:  setup.Brief.Base().Timestamp,
			ShareRecipients: shareRecipients,
		})
		if err != nil {
			return err
		}

		reply, err := m.client.ShamirRecoveryDelete(ctx, signed)
		if err != nil {
			return fmt.Errorf("shamir: deleting recovery setup: %w", err)
		}

		switch r := reply.(type) {
		case transport.ShamirDeleteOK, transport.ShamirDeleteAlreadyDeleted:
			if _, err := m.ops.PollServerForNewCertificates(ctx, nil); err != nil {
				return err
			}
			m.logger.Info("recovery setup deleted",
				"setup_timestamp", setup.Brief.Base().Timestamp)
			return nil
		case transport.ShamirDeleteNotFound:
			return fmt.Errorf("shamir: server does not know the setup being deleted")
		case transport.RequireGreaterTimestamp:
			floor = r.StrictlyGreaterThan
		case transport.TimestampOutOfBallpark:
			return m.ops.ReportTimestampOutOfBallpark(r)
		default:
			return fmt.Errorf("shamir: unexpected delete reply %T", reply)
		}
	}
	return fmt.Errorf("shamir: recovery setup deletion exhausted its retries")
}
