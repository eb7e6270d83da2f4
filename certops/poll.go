// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package certops

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/parsec-cloud/go-parsec/certif"
	"github.com/parsec-cloud/go-parsec/certstore"
	"github.com/parsec-cloud/go-parsec/events"
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
	"github.com/parsec-cloud/go-parsec/transport"
	"github.com/parsec-cloud/go-parsec/trustchain"
)

// PollServerForNewCertificates fetches everything newer than since (or
// the store's own watermarks when since is nil), validates it, and
// appends it to the ledger. Returns the ledger watermarks after the
// poll, whether or not anything was new.
func (o *Ops) PollServerForNewCertificates(ctx context.Context, since *certif.PerTopicLastTimestamps) (certif.PerTopicLastTimestamps, error) {
	if err := o.checkStopped(); err != nil {
		return certif.PerTopicLastTimestamps{}, err
	}

	watermarks := o.store.LastTimestamps()
	if since == nil {
		since = &watermarks
	}

	reply, err := o.client.CertificateGet(ctx, *since)
	if err != nil {
		if errors.Is(err, transport.ErrOffline) {
			o.bus.Publish(events.EventOffline{})
		}
		return certif.PerTopicLastTimestamps{}, fmt.Errorf("certops: polling certificates: %w", err)
	}

	switch r := reply.(type) {
	case transport.CertificatesOK:
		after, _, err := o.AddCertificatesBatch(ctx, r)
		return after, err
	default:
		return certif.PerTopicLastTimestamps{}, fmt.Errorf("certops: unexpected certificate_get reply %T", reply)
	}
}

// AddCertificatesBatch validates and appends a server batch, topics in
// dependency order: common first (authors must exist before anything
// they sign), then sequester, then realms, then shamir.
//
// One invalid certificate aborts the whole batch: whatever was already
// appended is a valid prefix of the stream and stays, the offending
// certificate and everything after it is dropped, and
// EventInvalidCertificate is published. Returns the watermarks after
// whatever was stored, plus a redacted-switch indicator: true when the
// batch moved the local user across the Outsider boundary, meaning
// user data fetched before the batch may flip between its redacted and
// full forms and should be re-fetched.
func (o *Ops) AddCertificatesBatch(ctx context.Context, batch transport.CertificatesOK) (certif.PerTopicLastTimestamps, bool, error) {
	guard, err := o.store.ForWrite(ctx)
	if err != nil {
		return certif.PerTopicLastTimestamps{}, false, fmt.Errorf("certops: %w", err)
	}
	defer guard.Release()

	before := guard.LastTimestamps()
	outsiderBefore := o.selfIsOutsider(&guard.ReadGuard)

	appendAll := func(signed [][]byte) error {
		for _, blob := range signed {
			certificate, err := o.validator.Validate(&guard.ReadGuard, blob)
			if err != nil {
				return err
			}
			if err := guard.AddNextCertificate(certificate, blob); err != nil {
				return err
			}
		}
		return nil
	}

	err = appendAll(batch.Common)
	if err == nil {
		err = appendAll(batch.Sequester)
	}
	if err == nil {
		// Realm iteration order does not matter for correctness (realm
		// topics are independent) but is made deterministic for logs
		// and tests.
		realms := make([]ref.RealmID, 0, len(batch.Realms))
		for realm := range batch.Realms {
			realms = append(realms, realm)
		}
		sort.Slice(realms, func(i, j int) bool {
			return realms[i].String() < realms[j].String()
		})
		for _, realm := range realms {
			if err = appendAll(batch.Realms[realm]); err != nil {
				break
			}
		}
	}
	if err == nil {
		err = checkShamirGroups(batch.Shamir)
	}
	if err == nil {
		err = appendAll(batch.Shamir)
	}

	after := guard.LastTimestamps()
	redactedSwitch := o.selfIsOutsider(&guard.ReadGuard) != outsiderBefore
	if before.AnyNewerThan(after) {
		o.bus.Publish(events.EventCertificatesUpdated{
			Common:    after.Common,
			Sequester: after.Sequester,
			Shamir:    after.Shamir,
			Realms:    after.Realms,
		})
	}

	if err != nil {
		var invalid *trustchain.InvalidCertificateError
		if errors.As(err, &invalid) {
			o.bus.Publish(events.EventInvalidCertificate{Error: invalid})
			o.logger.Error("server provided an invalid certificate",
				"reason", invalid.Reason,
				"kind", invalid.Kind,
				"detail", invalid.Detail,
			)
		}
		return after, redactedSwitch, fmt.Errorf("certops: adding certificate batch: %w", err)
	}
	return after, redactedSwitch, nil
}

// selfIsOutsider reports whether the local user's current profile is
// Outsider. A user the ledger does not know yet is not an outsider.
func (o *Ops) selfIsOutsider(guard *certstore.ReadGuard) bool {
	profile, err := guard.GetCurrentProfile(o.selfUser, 0)
	if err != nil {
		return false
	}
	return profile == certif.ProfileOutsider
}

// checkShamirGroups enforces that every recovery brief in the batch
// arrives with one share per recipient at the brief's timestamp.
// Individual share validation can only tie a share back to its brief;
// completeness is a property of the group, so it is checked before any
// of the group lands in the ledger. Undecodable blobs are left for
// appendAll, which rejects them with full context.
func checkShamirGroups(signed [][]byte) error {
	type shareKey struct {
		user      ref.UserID
		recipient ref.UserID
		timestamp dtime.Time
	}
	shares := make(map[shareKey]struct{})
	var briefs []*certif.ShamirRecoveryBriefCertificate
	for _, blob := range signed {
		certificate, err := certif.UnsecureDecode(blob)
		if err != nil {
			continue
		}
		switch c := certificate.(type) {
		case *certif.ShamirRecoveryBriefCertificate:
			briefs = append(briefs, c)
		case *certif.ShamirRecoveryShareCertificate:
			shares[shareKey{c.UserID, c.Recipient, c.Base().Timestamp}] = struct{}{}
		}
	}

	for _, brief := range briefs {
		for _, recipient := range brief.Recipients {
			key := shareKey{brief.UserID, recipient.UserID, brief.Base().Timestamp}
			if _, present := shares[key]; !present {
				return &trustchain.InvalidCertificateError{
					Reason: trustchain.ReasonRelatedMissing,
					Kind:   certif.KindOf(brief),
					Detail: fmt.Sprintf("setup of %s at %s is missing the share for recipient %s",
						brief.UserID, brief.Base().Timestamp, recipient.UserID),
				}
			}
		}
	}
	return nil
}

// EnsureCertificatesUpTo polls until the local ledger reaches the
// given watermarks. Used when a server reply names the certificate
// state the client must know before proceeding (vlob payload
// validation, RequirePollingCertificates retries).
func (o *Ops) EnsureCertificatesUpTo(ctx context.Context, needed certif.PerTopicLastTimestamps) error {
	current := o.store.LastTimestamps()
	if !current.AnyNewerThan(needed) {
		return nil
	}
	current, err := o.PollServerForNewCertificates(ctx, &current)
	if err != nil {
		return err
	}
	if current.AnyNewerThan(needed) {
		return fmt.Errorf("certops: server poll did not reach the required certificate state")
	}
	return nil
}
