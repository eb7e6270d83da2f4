// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package certstore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/parsec-cloud/go-parsec/certif"
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
)

// query describes one certificate lookup. Topic and TopicPrefix are
// mutually exclusive; nil filters are unconstrained. A zero UpTo means
// "no timestamp bound".
type query struct {
	topic       string
	topicPrefix string
	kind        string
	filter1     *string
	filter2     *string
	upTo        dtime.Time
}

func (q query) conditions(bounded bool) (string, []any) {
	conditions := []string{"kind = ?"}
	args := []any{q.kind}

	if q.topic != "" {
		conditions = append(conditions, "topic = ?")
		args = append(args, q.topic)
	}
	if q.topicPrefix != "" {
		conditions = append(conditions, "topic LIKE ?")
		args = append(args, q.topicPrefix+"%")
	}
	if q.filter1 != nil {
		conditions = append(conditions, "filter1 = ?")
		args = append(args, *q.filter1)
	}
	if q.filter2 != nil {
		conditions = append(conditions, "filter2 = ?")
		args = append(args, *q.filter2)
	}
	if bounded && !q.upTo.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, int64(q.upTo))
	}

	return strings.Join(conditions, " AND "), args
}

func ptr(s string) *string { return &s }

// getLast returns the newest stored certificate matching the query
// within its timestamp bound. When the only matches are newer than
// the bound it returns ErrCertificateFromTheFuture so the caller
// knows polling (not absence) is the problem.
func (g *ReadGuard) getLast(q query) (certif.Certificate, error) {
	where, args := q.conditions(true)

	var data []byte
	err := sqlitex.Execute(g.conn,
		"SELECT data FROM certificates WHERE "+where+" ORDER BY timestamp DESC, idx DESC LIMIT 1",
		&sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				data = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, data)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("certstore: querying %s: %w", q.kind, err)
	}
	if data != nil {
		return certif.UnsecureDecode(data)
	}

	if !q.upTo.IsZero() {
		// Distinguish "does not exist" from "exists, but after the
		// bound".
		where, args := q.conditions(false)
		var futureStamp dtime.Time
		err := sqlitex.Execute(g.conn,
			"SELECT timestamp FROM certificates WHERE "+where+" ORDER BY timestamp ASC, idx ASC LIMIT 1",
			&sqlitex.ExecOptions{
				Args: args,
				ResultFunc: func(stmt *sqlite.Stmt) error {
					futureStamp = dtime.Time(stmt.ColumnInt64(0))
					return nil
				},
			})
		if err != nil {
			return nil, fmt.Errorf("certstore: querying %s: %w", q.kind, err)
		}
		if !futureStamp.IsZero() {
			return nil, fmt.Errorf("certstore: %s exists at %s, queried up to %s: %w",
				q.kind, futureStamp, q.upTo, ErrCertificateFromTheFuture)
		}
	}

	return nil, fmt.Errorf("certstore: %s: %w", q.kind, ErrCertificateNotFound)
}

// getAll returns all matching certificates, oldest first, within the
// timestamp bound. An empty result is not an error.
func (g *ReadGuard) getAll(q query) ([]certif.Certificate, error) {
	where, args := q.conditions(true)

	var results []certif.Certificate
	err := sqlitex.Execute(g.conn,
		"SELECT data FROM certificates WHERE "+where+" ORDER BY timestamp ASC, idx ASC",
		&sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				data := make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, data)
				certificate, err := certif.UnsecureDecode(data)
				if err != nil {
					return err
				}
				results = append(results, certificate)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("certstore: querying %s: %w", q.kind, err)
	}
	return results, nil
}

// lastAs runs getLast and narrows the result to the expected variant.
func lastAs[T certif.Certificate](g *ReadGuard, q query) (T, error) {
	var zero T
	certificate, err := g.getLast(q)
	if err != nil {
		return zero, err
	}
	narrowed, ok := certificate.(T)
	if !ok {
		return zero, fmt.Errorf("certstore: stored %s decoded as %T", q.kind, certificate)
	}
	return narrowed, nil
}

// allAs runs getAll and narrows every result to the expected variant.
func allAs[T certif.Certificate](g *ReadGuard, q query) ([]T, error) {
	certificates, err := g.getAll(q)
	if err != nil {
		return nil, err
	}
	narrowed := make([]T, len(certificates))
	for i, certificate := range certificates {
		one, ok := certificate.(T)
		if !ok {
			return nil, fmt.Errorf("certstore: stored %s decoded as %T", q.kind, certificate)
		}
		narrowed[i] = one
	}
	return narrowed, nil
}

// Kind tags, resolved once from the variants themselves.
var (
	kindUser                    = certif.KindOf(&certif.UserCertificate{})
	kindDevice                  = certif.KindOf(&certif.DeviceCertificate{})
	kindUserUpdate              = certif.KindOf(&certif.UserUpdateCertificate{})
	kindRevokedUser             = certif.KindOf(&certif.RevokedUserCertificate{})
	kindRealmRole               = certif.KindOf(&certif.RealmRoleCertificate{})
	kindRealmName               = certif.KindOf(&certif.RealmNameCertificate{})
	kindRealmKeyRotation        = certif.KindOf(&certif.RealmKeyRotationCertificate{})
	kindRealmArchiving          = certif.KindOf(&certif.RealmArchivingCertificate{})
	kindShamirBrief             = certif.KindOf(&certif.ShamirRecoveryBriefCertificate{})
	kindShamirShare             = certif.KindOf(&certif.ShamirRecoveryShareCertificate{})
	kindShamirDeletion          = certif.KindOf(&certif.ShamirRecoveryDeletionCertificate{})
	kindSequesterAuthority      = certif.KindOf(&certif.SequesterAuthorityCertificate{})
	kindSequesterService        = certif.KindOf(&certif.SequesterServiceCertificate{})
	kindSequesterRevokedService = certif.KindOf(&certif.SequesterRevokedServiceCertificate{})
)

// GetUserCertificate returns the certificate that declared the user.
func (g *ReadGuard) GetUserCertificate(user ref.UserID, upTo dtime.Time) (*certif.UserCertificate, error) {
	return lastAs[*certif.UserCertificate](g, query{
		topic: certif.CommonTopic().String(), kind: kindUser, filter1: ptr(user.String()), upTo: upTo,
	})
}

// GetDeviceCertificate returns the certificate that registered the
// device's verify key.
func (g *ReadGuard) GetDeviceCertificate(device ref.DeviceID, upTo dtime.Time) (*certif.DeviceCertificate, error) {
	return lastAs[*certif.DeviceCertificate](g, query{
		topic: certif.CommonTopic().String(), kind: kindDevice, filter1: ptr(device.String()), upTo: upTo,
	})
}

// GetUserDeviceCertificates returns all device certificates of one
// user, oldest first.
func (g *ReadGuard) GetUserDeviceCertificates(user ref.UserID, upTo dtime.Time) ([]*certif.DeviceCertificate, error) {
	return allAs[*certif.DeviceCertificate](g, query{
		topic: certif.CommonTopic().String(), kind: kindDevice, filter2: ptr(user.String()), upTo: upTo,
	})
}

// GetRevokedUserCertificate returns the user's revocation, or
// ErrCertificateNotFound if the user is not revoked.
func (g *ReadGuard) GetRevokedUserCertificate(user ref.UserID, upTo dtime.Time) (*certif.RevokedUserCertificate, error) {
	return lastAs[*certif.RevokedUserCertificate](g, query{
		topic: certif.CommonTopic().String(), kind: kindRevokedUser, filter1: ptr(user.String()), upTo: upTo,
	})
}

// GetLastUserUpdateCertificate returns the user's most recent profile
// change.
func (g *ReadGuard) GetLastUserUpdateCertificate(user ref.UserID, upTo dtime.Time) (*certif.UserUpdateCertificate, error) {
	return lastAs[*certif.UserUpdateCertificate](g, query{
		topic: certif.CommonTopic().String(), kind: kindUserUpdate, filter1: ptr(user.String()), upTo: upTo,
	})
}

// GetCurrentProfile returns the user's effective profile at upTo: the
// declared profile overridden by the latest profile update, if any.
func (g *ReadGuard) GetCurrentProfile(user ref.UserID, upTo dtime.Time) (certif.Profile, error) {
	userCertificate, err := g.GetUserCertificate(user, upTo)
	if err != nil {
		return "", err
	}

	update, err := g.GetLastUserUpdateCertificate(user, upTo)
	switch {
	case err == nil:
		return update.NewProfile, nil
	case errors.Is(err, ErrCertificateNotFound), errors.Is(err, ErrCertificateFromTheFuture):
		return userCertificate.Profile, nil
	}
	return "", err
}

// GetLastRealmRoleCertificate returns the user's most recent role
// certificate in the realm. A nil Role on the result means the user's
// access was removed.
func (g *ReadGuard) GetLastRealmRoleCertificate(realm ref.RealmID, user ref.UserID, upTo dtime.Time) (*certif.RealmRoleCertificate, error) {
	return lastAs[*certif.RealmRoleCertificate](g, query{
		topic: certif.RealmTopic(realm).String(), kind: kindRealmRole, filter1: ptr(user.String()), upTo: upTo,
	})
}

// GetRealmRoleCertificates returns the realm's full role history,
// oldest first.
func (g *ReadGuard) GetRealmRoleCertificates(realm ref.RealmID, upTo dtime.Time) ([]*certif.RealmRoleCertificate, error) {
	return allAs[*certif.RealmRoleCertificate](g, query{
		topic: certif.RealmTopic(realm).String(), kind: kindRealmRole, upTo: upTo,
	})
}

// GetUserRealmRoleCertificates returns the user's role history across
// every realm, oldest first. The caller reduces it to a current role
// per realm by keeping the last certificate of each.
func (g *ReadGuard) GetUserRealmRoleCertificates(user ref.UserID, upTo dtime.Time) ([]*certif.RealmRoleCertificate, error) {
	return allAs[*certif.RealmRoleCertificate](g, query{
		topicPrefix: "realm:", kind: kindRealmRole, filter1: ptr(user.String()), upTo: upTo,
	})
}

// GetLastRealmKeyRotationCertificate returns the realm's newest key
// rotation (the current key index).
func (g *ReadGuard) GetLastRealmKeyRotationCertificate(realm ref.RealmID, upTo dtime.Time) (*certif.RealmKeyRotationCertificate, error) {
	return lastAs[*certif.RealmKeyRotationCertificate](g, query{
		topic: certif.RealmTopic(realm).String(), kind: kindRealmKeyRotation, upTo: upTo,
	})
}

// GetRealmKeyRotationCertificate returns the rotation that introduced
// a specific key index.
func (g *ReadGuard) GetRealmKeyRotationCertificate(realm ref.RealmID, keyIndex uint64, upTo dtime.Time) (*certif.RealmKeyRotationCertificate, error) {
	return lastAs[*certif.RealmKeyRotationCertificate](g, query{
		topic:   certif.RealmTopic(realm).String(),
		kind:    kindRealmKeyRotation,
		filter1: ptr(strconv.FormatUint(keyIndex, 10)),
		upTo:    upTo,
	})
}

// GetLastRealmNameCertificate returns the realm's current encrypted
// name.
func (g *ReadGuard) GetLastRealmNameCertificate(realm ref.RealmID, upTo dtime.Time) (*certif.RealmNameCertificate, error) {
	return lastAs[*certif.RealmNameCertificate](g, query{
		topic: certif.RealmTopic(realm).String(), kind: kindRealmName, upTo: upTo,
	})
}

// GetLastRealmArchivingCertificate returns the realm's current
// archiving state, or ErrCertificateNotFound if never archived.
func (g *ReadGuard) GetLastRealmArchivingCertificate(realm ref.RealmID, upTo dtime.Time) (*certif.RealmArchivingCertificate, error) {
	return lastAs[*certif.RealmArchivingCertificate](g, query{
		topic: certif.RealmTopic(realm).String(), kind: kindRealmArchiving, upTo: upTo,
	})
}

// GetLastShamirRecoveryBriefCertificate returns the newest recovery
// setup announced for the user.
func (g *ReadGuard) GetLastShamirRecoveryBriefCertificate(user ref.UserID, upTo dtime.Time) (*certif.ShamirRecoveryBriefCertificate, error) {
	return lastAs[*certif.ShamirRecoveryBriefCertificate](g, query{
		topic: certif.ShamirTopic().String(), kind: kindShamirBrief, filter1: ptr(user.String()), upTo: upTo,
	})
}

// GetLastShamirRecoveryDeletionCertificate returns the newest deletion
// targeting setups of the given user.
func (g *ReadGuard) GetLastShamirRecoveryDeletionCertificate(setupUser ref.UserID, upTo dtime.Time) (*certif.ShamirRecoveryDeletionCertificate, error) {
	return lastAs[*certif.ShamirRecoveryDeletionCertificate](g, query{
		topic: certif.ShamirTopic().String(), kind: kindShamirDeletion, filter1: ptr(setupUser.String()), upTo: upTo,
	})
}

// GetShamirRecoveryShareCertificate returns the share sealed to one
// recipient for the given user's newest setup.
func (g *ReadGuard) GetShamirRecoveryShareCertificate(setupUser, recipient ref.UserID, upTo dtime.Time) (*certif.ShamirRecoveryShareCertificate, error) {
	return lastAs[*certif.ShamirRecoveryShareCertificate](g, query{
		topic:   certif.ShamirTopic().String(),
		kind:    kindShamirShare,
		filter1: ptr(setupUser.String()),
		filter2: ptr(recipient.String()),
		upTo:    upTo,
	})
}

// GetSequesterAuthorityCertificate returns the organization's
// sequester authority, or ErrCertificateNotFound for non-sequestered
// organizations.
func (g *ReadGuard) GetSequesterAuthorityCertificate(upTo dtime.Time) (*certif.SequesterAuthorityCertificate, error) {
	return lastAs[*certif.SequesterAuthorityCertificate](g, query{
		topic: certif.SequesterTopic().String(), kind: kindSequesterAuthority, upTo: upTo,
	})
}

// GetSequesterServiceCertificates returns all registered sequester
// services, oldest first, including since-revoked ones.
func (g *ReadGuard) GetSequesterServiceCertificates(upTo dtime.Time) ([]*certif.SequesterServiceCertificate, error) {
	return allAs[*certif.SequesterServiceCertificate](g, query{
		topic: certif.SequesterTopic().String(), kind: kindSequesterService, upTo: upTo,
	})
}

// GetSequesterRevokedServiceCertificates returns all sequester service
// revocations, oldest first.
func (g *ReadGuard) GetSequesterRevokedServiceCertificates(upTo dtime.Time) ([]*certif.SequesterRevokedServiceCertificate, error) {
	return allAs[*certif.SequesterRevokedServiceCertificate](g, query{
		topic: certif.SequesterTopic().String(), kind: kindSequesterRevokedService, upTo: upTo,
	})
}

// Stored is one raw ledger row, for range reads.
type Stored struct {
	Index       int64
	Timestamp   dtime.Time
	Kind        string
	Signed      []byte
	Certificate certif.Certificate
}

// GetCertificates returns a topic's rows oldest first, starting at
// offset, at most limit rows (limit <= 0 means no limit).
func (g *ReadGuard) GetCertificates(topic certif.Topic, offset, limit int64) ([]Stored, error) {
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means unlimited.
	}

	var results []Stored
	err := sqlitex.Execute(g.conn,
		`SELECT idx, timestamp, kind, data FROM certificates
		 WHERE topic = ? ORDER BY idx ASC LIMIT ? OFFSET ?`,
		&sqlitex.ExecOptions{
			Args: []any{topic.String(), limit, offset},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				data := make([]byte, stmt.ColumnLen(3))
				stmt.ColumnBytes(3, data)
				certificate, err := certif.UnsecureDecode(data)
				if err != nil {
					return err
				}
				results = append(results, Stored{
					Index:       stmt.ColumnInt64(0),
					Timestamp:   dtime.Time(stmt.ColumnInt64(1)),
					Kind:        stmt.ColumnText(2),
					Signed:      data,
					Certificate: certificate,
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("certstore: reading topic %s: %w", topic, err)
	}
	return results, nil
}
