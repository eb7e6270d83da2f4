// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package certif

import (
	"fmt"
	"strings"

	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
)

// Topic is a partition of the certificate stream with independent
// causal ordering: common (users, devices, revocations), sequester,
// one topic per realm, and the shamir recovery topic.
type Topic struct {
	kind  topicKind
	realm ref.RealmID
}

type topicKind uint8

const (
	topicCommon topicKind = iota
	topicSequester
	topicRealm
	topicShamir
)

// CommonTopic holds user, device, user-update, and revocation
// certificates.
func CommonTopic() Topic { return Topic{kind: topicCommon} }

// SequesterTopic holds sequester authority and service certificates.
func SequesterTopic() Topic { return Topic{kind: topicSequester} }

// RealmTopic holds role, name, key-rotation, and archiving
// certificates for one realm.
func RealmTopic(realm ref.RealmID) Topic { return Topic{kind: topicRealm, realm: realm} }

// ShamirTopic holds recovery brief, share, and deletion certificates.
func ShamirTopic() Topic { return Topic{kind: topicShamir} }

// Realm returns the realm of a realm topic, or false.
func (t Topic) Realm() (ref.RealmID, bool) {
	if t.kind != topicRealm {
		return ref.RealmID{}, false
	}
	return t.realm, true
}

// String returns the stable textual key used in SQL columns and logs:
// "common", "sequester", "shamir", or "realm:<uuid>".
func (t Topic) String() string {
	switch t.kind {
	case topicCommon:
		return "common"
	case topicSequester:
		return "sequester"
	case topicShamir:
		return "shamir"
	case topicRealm:
		return "realm:" + t.realm.String()
	}
	return "unknown"
}

// ParseTopic parses the String form back into a Topic.
func ParseTopic(raw string) (Topic, error) {
	switch {
	case raw == "common":
		return CommonTopic(), nil
	case raw == "sequester":
		return SequesterTopic(), nil
	case raw == "shamir":
		return ShamirTopic(), nil
	case strings.HasPrefix(raw, "realm:"):
		realm, err := ref.ParseRealmID(strings.TrimPrefix(raw, "realm:"))
		if err != nil {
			return Topic{}, fmt.Errorf("certif: topic %q: %w", raw, err)
		}
		return RealmTopic(realm), nil
	}
	return Topic{}, fmt.Errorf("certif: unknown topic %q", raw)
}

// PerTopicLastTimestamps is the per-topic watermark a client carries:
// the timestamp of the newest certificate it has accepted in each
// topic. Zero values mean "nothing known yet". Used to build
// incremental poll requests and to detect staleness.
type PerTopicLastTimestamps struct {
	Common    dtime.Time
	Sequester dtime.Time
	Shamir    dtime.Time
	Realms    map[ref.RealmID]dtime.Time
}

// ForTopic returns the watermark of the given topic.
func (p PerTopicLastTimestamps) ForTopic(topic Topic) dtime.Time {
	switch topic.kind {
	case topicCommon:
		return p.Common
	case topicSequester:
		return p.Sequester
	case topicShamir:
		return p.Shamir
	case topicRealm:
		return p.Realms[topic.realm]
	}
	return 0
}

// WithTopic returns a copy with the given topic's watermark replaced.
// The receiver is not modified.
func (p PerTopicLastTimestamps) WithTopic(topic Topic, timestamp dtime.Time) PerTopicLastTimestamps {
	updated := p
	updated.Realms = make(map[ref.RealmID]dtime.Time, len(p.Realms)+1)
	for realm, stamp := range p.Realms {
		updated.Realms[realm] = stamp
	}
	switch topic.kind {
	case topicCommon:
		updated.Common = timestamp
	case topicSequester:
		updated.Sequester = timestamp
	case topicShamir:
		updated.Shamir = timestamp
	case topicRealm:
		updated.Realms[topic.realm] = timestamp
	}
	return updated
}

// AnyNewerThan reports whether other has at least one topic strictly
// ahead of p. Used to decide whether a poll made progress.
func (p PerTopicLastTimestamps) AnyNewerThan(other PerTopicLastTimestamps) bool {
	if p.Common < other.Common || p.Sequester < other.Sequester || p.Shamir < other.Shamir {
		return true
	}
	for realm, stamp := range other.Realms {
		if p.Realms[realm] < stamp {
			return true
		}
	}
	return false
}
