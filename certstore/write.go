// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package certstore

import (
	"fmt"
	"strconv"

	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/parsec-cloud/go-parsec/certif"
)

// AddNextCertificate appends a validated certificate to its topic.
// The certificate's timestamp must be strictly greater than the
// topic's current watermark; signed is the canonical wire form
// (payload plus signature) that decoding getters will hand back.
//
// The caller has already run trustchain validation: the store never
// re-checks signatures or authority.
func (g *WriteGuard) AddNextCertificate(certificate certif.Certificate, signed []byte) error {
	topic := certificate.Topic()
	timestamp := certificate.Base().Timestamp

	// A recovery setup is one atomic group: the brief and its share
	// certificates carry the same timestamp, so the shamir topic
	// allows ties. Every other topic is strictly increasing.
	watermark := g.store.lastTimestamps.ForTopic(topic)
	ordered := timestamp.After(watermark)
	if topic == certif.ShamirTopic() {
		ordered = !timestamp.Before(watermark) && !timestamp.IsZero()
	}
	if !ordered {
		return fmt.Errorf("certstore: topic %s at %s, got %s: %w",
			topic, watermark, timestamp, ErrOutOfOrderTimestamp)
	}

	topicKey := topic.String()
	index := g.store.nextIndex[topicKey]
	filter1, filter2 := filtersFor(certificate)

	err := sqlitex.Execute(g.conn,
		`INSERT INTO certificates (topic, idx, timestamp, kind, filter1, filter2, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				topicKey,
				index,
				int64(timestamp),
				certif.KindOf(certificate),
				filter1,
				filter2,
				signed,
			},
		})
	if err != nil {
		return fmt.Errorf("certstore: inserting %s into %s: %w",
			certif.KindOf(certificate), topicKey, err)
	}

	g.store.nextIndex[topicKey] = index + 1
	g.store.lastTimestamps = g.store.lastTimestamps.WithTopic(topic, timestamp)
	return nil
}

// ForgetAllCertificates wipes the ledger. Used when validation finds
// the stored stream inconsistent with the server's: the client drops
// everything and re-fetches from scratch.
func (g *WriteGuard) ForgetAllCertificates() error {
	if err := sqlitex.Execute(g.conn, "DELETE FROM certificates", nil); err != nil {
		return fmt.Errorf("certstore: forgetting certificates: %w", err)
	}
	g.store.lastTimestamps = certif.PerTopicLastTimestamps{}
	g.store.nextIndex = make(map[string]int64)
	g.store.logger.Warn("certificate ledger wiped")
	return nil
}

// filtersFor returns the two secondary lookup columns for a variant.
// The topic column already narrows realm certificates to their realm,
// so realm-scoped variants only index within the topic.
func filtersFor(certificate certif.Certificate) (string, string) {
	switch c := certificate.(type) {
	case *certif.UserCertificate:
		return c.UserID.String(), ""
	case *certif.DeviceCertificate:
		return c.DeviceID.String(), c.UserID.String()
	case *certif.UserUpdateCertificate:
		return c.UserID.String(), ""
	case *certif.RevokedUserCertificate:
		return c.UserID.String(), ""
	case *certif.RealmRoleCertificate:
		return c.UserID.String(), ""
	case *certif.RealmKeyRotationCertificate:
		return strconv.FormatUint(c.KeyIndex, 10), ""
	case *certif.ShamirRecoveryBriefCertificate:
		return c.UserID.String(), ""
	case *certif.ShamirRecoveryShareCertificate:
		return c.UserID.String(), c.Recipient.String()
	case *certif.ShamirRecoveryDeletionCertificate:
		return c.SetupUserID.String(), ""
	case *certif.SequesterServiceCertificate:
		return c.ServiceID, ""
	case *certif.SequesterRevokedServiceCertificate:
		return c.ServiceID, ""
	}
	// RealmName, RealmArchiving, SequesterAuthority: looked up by
	// topic and kind alone.
	return "", ""
}
