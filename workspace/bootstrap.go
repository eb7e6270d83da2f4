// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"context"
	"fmt"

	"github.com/parsec-cloud/go-parsec/certif"
	"github.com/parsec-cloud/go-parsec/certops"
	"github.com/parsec-cloud/go-parsec/events"
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
	"github.com/parsec-cloud/go-parsec/lib/secretbox"
	"github.com/parsec-cloud/go-parsec/transport"
)

// maxBootstrapAttempts bounds each bootstrap step's timestamp retry
// loop.
const maxBootstrapAttempts = 8

// IsBootstrapped reports whether the realm finished its creation
// protocol: it has at least one key and an initial name.
func (e *Engine) IsBootstrapped(ctx context.Context) (bool, error) {
	rotation, err := e.ops.GetLastRealmKeyRotation(ctx, e.realm)
	if err != nil {
		return false, err
	}
	if rotation == nil {
		return false, nil
	}
	return e.ops.HasRealmName(ctx, e.realm)
}

// Bootstrap runs the realm creation protocol: founding self-signed
// owner role certificate, initial key rotation with its keys bundle,
// initial encrypted name. Every step is idempotent, so a bootstrap
// interrupted at any point can simply be run again; steps another
// device already performed are skipped.
func (e *Engine) Bootstrap(ctx context.Context, name string) error {
	role, err := e.ops.GetUserRealmRole(ctx, e.realm, e.ops.SelfUser())
	if err != nil {
		return err
	}
	if role == nil {
		if err := e.createRealm(ctx); err != nil {
			return err
		}
		if _, err := e.ops.PollServerForNewCertificates(ctx, nil); err != nil {
			return err
		}
	}

	rotation, err := e.ops.GetLastRealmKeyRotation(ctx, e.realm)
	if err != nil {
		return err
	}
	if rotation == nil {
		if err := e.rotateInitialKey(ctx); err != nil {
			return err
		}
		if _, err := e.ops.PollServerForNewCertificates(ctx, nil); err != nil {
			return err
		}
	}

	named, err := e.ops.HasRealmName(ctx, e.realm)
	if err != nil {
		return err
	}
	if !named {
		if err := e.setInitialName(ctx, name); err != nil {
			return err
		}
		if _, err := e.ops.PollServerForNewCertificates(ctx, nil); err != nil {
			return err
		}
	}

	if err := e.EnsureRootManifest(ctx); err != nil {
		return err
	}
	e.bus.Publish(events.EventWorkspaceBootstrapped{Realm: e.realm})
	return nil
}

// createRealm registers the realm from its founding role certificate:
// self-signed, establishing the local user as Owner.
func (e *Engine) createRealm(ctx context.Context) error {
	var floor dtime.Time
	for attempt := 0; attempt < maxBootstrapAttempts; attempt++ {
		owner := certif.RealmRoleOwner
		signed, err := certif.Sign(e.device.SigningKey, &certif.RealmRoleCertificate{
			CertificateBase: certif.CertificateBase{
				Author:    e.device.Author(),
				Timestamp: e.ops.GreaterTimestamp(certops.PurposeRealmBootstrap, floor),
			},
			RealmID: e.realm,
			UserID:  e.ops.SelfUser(),
			Role:    &owner,
		})
		if err != nil {
			return err
		}

		reply, err := e.client.RealmCreate(ctx, signed)
		if err != nil {
			e.noteOffline(err)
			return fmt.Errorf("workspace: creating realm %s: %w", e.realm, err)
		}

		done, err := e.handleRealmWriteReply(ctx, reply, &floor)
		if done || err != nil {
			return err
		}
	}
	return fmt.Errorf("workspace: realm %s creation exhausted its retries", e.realm)
}

// rotateInitialKey publishes key index 1 together with its keys bundle.
// Losing the race to another device is fine: their key wins and will be
// fetched on first use.
func (e *Engine) rotateInitialKey(ctx context.Context) error {
	realmKey, err := secretbox.GenerateKey()
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	canary, err := MakeCanary(realmKey)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}

	recipients, err := e.bundleRecipients(ctx)
	if err != nil {
		return err
	}
	bundle, accesses, err := BuildKeysBundle(e.realm, map[uint64][]byte{1: realmKey.Bytes()}, recipients)
	if err != nil {
		return err
	}

	var floor dtime.Time
	for attempt := 0; attempt < maxBootstrapAttempts; attempt++ {
		signed, err := certif.Sign(e.device.SigningKey, &certif.RealmKeyRotationCertificate{
			CertificateBase: certif.CertificateBase{
				Author:    e.device.Author(),
				Timestamp: e.ops.GreaterTimestamp(certops.PurposeRealmBootstrap, floor),
			},
			RealmID:   e.realm,
			KeyIndex:  1,
			KeyCanary: canary,
		})
		if err != nil {
			return err
		}

		reply, err := e.client.RealmRotateKey(ctx, transport.RealmRotateKeyRequest{
			SignedRotation:       signed,
			Bundle:               bundle,
			PerParticipantAccess: accesses,
		})
		if err != nil {
			e.noteOffline(err)
			return fmt.Errorf("workspace: rotating key for realm %s: %w", e.realm, err)
		}

		if _, accepted := reply.(transport.RealmWriteOK); accepted {
			e.keysMu.Lock()
			e.keys[1] = realmKey
			e.keysMu.Unlock()
			return nil
		}
		if bad, lost := reply.(transport.RealmWriteBadKeyIndex); lost {
			// Another device rotated first; adopt their key.
			return e.ops.EnsureCertificatesUpTo(ctx, certif.PerTopicLastTimestamps{
				Realms: map[ref.RealmID]dtime.Time{e.realm: bad.LastRealmCertificateTimestamp},
			})
		}
		done, err := e.handleRealmWriteReply(ctx, reply, &floor)
		if done || err != nil {
			return err
		}
	}
	return fmt.Errorf("workspace: realm %s key rotation exhausted its retries", e.realm)
}

// bundleRecipients resolves the public key of every current realm
// member. Before the founding role certificate is polled back the
// member list can be empty; the local user is always included.
func (e *Engine) bundleRecipients(ctx context.Context) (map[ref.UserID]string, error) {
	roles, err := e.ops.GetRealmRoles(ctx, e.realm)
	if err != nil {
		return nil, err
	}
	recipients := make(map[ref.UserID]string, len(roles)+1)
	for user := range roles {
		publicKey, err := e.ops.GetUserPublicKey(ctx, user)
		if err != nil {
			return nil, err
		}
		recipients[user] = publicKey
	}
	if _, present := recipients[e.ops.SelfUser()]; !present {
		recipients[e.ops.SelfUser()] = e.device.AgeKeys.PublicKey
	}
	return recipients, nil
}

// setInitialName publishes the realm's name, encrypted with the realm
// key so the server never learns it. InitialNameOrFail makes losing a
// naming race harmless.
func (e *Engine) setInitialName(ctx context.Context, name string) error {
	rotation, err := e.ops.GetLastRealmKeyRotation(ctx, e.realm)
	if err != nil {
		return err
	}
	if rotation == nil {
		return fmt.Errorf("workspace: realm %s cannot be named before its first key rotation", e.realm)
	}
	key, err := e.keyFor(ctx, rotation.KeyIndex)
	if err != nil {
		return err
	}
	encryptedName, err := key.Encrypt([]byte(name))
	if err != nil {
		return fmt.Errorf("workspace: encrypting realm name: %w", err)
	}

	var floor dtime.Time
	for attempt := 0; attempt < maxBootstrapAttempts; attempt++ {
		signed, err := certif.Sign(e.device.SigningKey, &certif.RealmNameCertificate{
			CertificateBase: certif.CertificateBase{
				Author:    e.device.Author(),
				Timestamp: e.ops.GreaterTimestamp(certops.PurposeRealmBootstrap, floor),
			},
			RealmID:       e.realm,
			KeyIndex:      rotation.KeyIndex,
			EncryptedName: encryptedName,
		})
		if err != nil {
			return err
		}

		reply, err := e.client.RealmRename(ctx, transport.RealmRenameRequest{
			SignedName:        signed,
			InitialNameOrFail: true,
		})
		if err != nil {
			e.noteOffline(err)
			return fmt.Errorf("workspace: naming realm %s: %w", e.realm, err)
		}

		done, err := e.handleRealmWriteReply(ctx, reply, &floor)
		if done || err != nil {
			return err
		}
	}
	return fmt.Errorf("workspace: realm %s naming exhausted its retries", e.realm)
}

// handleRealmWriteReply applies the shared realm-write retry protocol.
// done means the operation finished (successfully or as a benign
// already-exists race); a false done with a nil error means retry.
func (e *Engine) handleRealmWriteReply(ctx context.Context, reply transport.RealmWriteReply, floor *dtime.Time) (done bool, err error) {
	switch r := reply.(type) {
	case transport.RealmWriteOK:
		return true, nil
	case transport.RealmWriteAlreadyExists:
		return true, nil
	case transport.RequireGreaterTimestamp:
		*floor = r.StrictlyGreaterThan
		return false, nil
	case transport.RequirePollingCertificates:
		return false, e.ops.EnsureCertificatesUpTo(ctx, r.LastTimestamps)
	case transport.TimestampOutOfBallpark:
		return true, e.ops.ReportTimestampOutOfBallpark(r)
	case transport.RealmWriteNotAllowed:
		return true, fmt.Errorf("workspace: realm %s write denied", e.realm)
	case transport.RealmWriteBadKeyIndex:
		return true, fmt.Errorf("workspace: realm %s rejected key index", e.realm)
	default:
		return true, fmt.Errorf("workspace: unexpected realm write reply %T", reply)
	}
}
