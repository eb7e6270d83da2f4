// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package certstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/parsec-cloud/go-parsec/certif"
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
	"github.com/parsec-cloud/go-parsec/lib/sign"
)

var baseStamp = dtime.FromStd(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

type storeFixture struct {
	store *Store
	key   sign.SigningKey
}

func newFixture(t *testing.T, path string) *storeFixture {
	t.Helper()
	if path == "" {
		path = ":memory:"
	}
	store, err := Open(Config{
		Path:     path,
		PoolSize: 1,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	key, err := sign.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	return &storeFixture{store: store, key: key}
}

// add signs and appends a certificate, failing the test on error.
func (f *storeFixture) add(t *testing.T, certificate certif.Certificate) {
	t.Helper()
	signed, err := certif.Sign(f.key, certificate)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	guard, err := f.store.ForWrite(context.Background())
	if err != nil {
		t.Fatalf("ForWrite: %v", err)
	}
	defer guard.Release()
	if err := guard.AddNextCertificate(certificate, signed); err != nil {
		t.Fatalf("AddNextCertificate(%T): %v", certificate, err)
	}
}

func (f *storeFixture) read(t *testing.T) *ReadGuard {
	t.Helper()
	guard, err := f.store.ForRead(context.Background())
	if err != nil {
		t.Fatalf("ForRead: %v", err)
	}
	t.Cleanup(guard.Release)
	return guard
}

func userCert(user ref.UserID, author certif.Author, stamp dtime.Time, profile certif.Profile) *certif.UserCertificate {
	return &certif.UserCertificate{
		CertificateBase: certif.CertificateBase{Author: author, Timestamp: stamp},
		UserID:          user,
		HumanHandle:     &certif.HumanHandle{Email: "u@example.com", Label: "U"},
		PublicKey:       "age1u",
		Profile:         profile,
	}
}

func TestAddAndGetUserCertificate(t *testing.T) {
	f := newFixture(t, "")
	user := ref.NewUserID()
	f.add(t, userCert(user, certif.RootAuthor(), baseStamp, certif.ProfileAdmin))

	guard := f.read(t)
	got, err := guard.GetUserCertificate(user, 0)
	if err != nil {
		t.Fatalf("GetUserCertificate: %v", err)
	}
	if got.UserID != user || got.Profile != certif.ProfileAdmin {
		t.Errorf("got %+v", got)
	}

	if _, err := guard.GetUserCertificate(ref.NewUserID(), 0); !errors.Is(err, ErrCertificateNotFound) {
		t.Errorf("unknown user: got %v, want ErrCertificateNotFound", err)
	}
}

func TestOutOfOrderTimestampRejected(t *testing.T) {
	f := newFixture(t, "")
	author := certif.DeviceAuthor(ref.NewDeviceID())
	f.add(t, userCert(ref.NewUserID(), author, baseStamp, certif.ProfileStandard))

	stale := userCert(ref.NewUserID(), author, baseStamp, certif.ProfileStandard)
	signed, err := certif.Sign(f.key, stale)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	guard, err := f.store.ForWrite(context.Background())
	if err != nil {
		t.Fatalf("ForWrite: %v", err)
	}
	defer guard.Release()
	if err := guard.AddNextCertificate(stale, signed); !errors.Is(err, ErrOutOfOrderTimestamp) {
		t.Errorf("equal timestamp: got %v, want ErrOutOfOrderTimestamp", err)
	}

	// A different topic is an independent ordering domain: the same
	// timestamp must be accepted there.
	role := certif.RealmRoleOwner
	realmCert := &certif.RealmRoleCertificate{
		CertificateBase: certif.CertificateBase{Author: author, Timestamp: baseStamp},
		RealmID:         ref.NewRealmID(),
		UserID:          ref.NewUserID(),
		Role:            &role,
	}
	signedRealm, err := certif.Sign(f.key, realmCert)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := guard.AddNextCertificate(realmCert, signedRealm); err != nil {
		t.Errorf("independent topic: %v", err)
	}
}

func TestFromTheFutureVersusNotFound(t *testing.T) {
	f := newFixture(t, "")
	user := ref.NewUserID()
	f.add(t, userCert(user, certif.RootAuthor(), baseStamp, certif.ProfileStandard))

	guard := f.read(t)

	before := baseStamp.Add(-time.Hour)
	if _, err := guard.GetUserCertificate(user, before); !errors.Is(err, ErrCertificateFromTheFuture) {
		t.Errorf("bounded before creation: got %v, want ErrCertificateFromTheFuture", err)
	}
	if _, err := guard.GetUserCertificate(user, baseStamp); err != nil {
		t.Errorf("bounded at creation: %v", err)
	}
	if _, err := guard.GetUserCertificate(ref.NewUserID(), before); !errors.Is(err, ErrCertificateNotFound) {
		t.Errorf("absent user with bound: got %v, want ErrCertificateNotFound", err)
	}
}

func TestCurrentProfileFollowsUpdates(t *testing.T) {
	f := newFixture(t, "")
	user := ref.NewUserID()
	author := certif.DeviceAuthor(ref.NewDeviceID())
	f.add(t, userCert(user, author, baseStamp, certif.ProfileStandard))
	f.add(t, &certif.UserUpdateCertificate{
		CertificateBase: certif.CertificateBase{Author: author, Timestamp: baseStamp.Add(time.Minute)},
		UserID:          user,
		NewProfile:      certif.ProfileAdmin,
	})

	guard := f.read(t)

	profile, err := guard.GetCurrentProfile(user, 0)
	if err != nil {
		t.Fatalf("GetCurrentProfile: %v", err)
	}
	if profile != certif.ProfileAdmin {
		t.Errorf("profile = %v, want ADMIN", profile)
	}

	// Bounded before the update, the declared profile still applies.
	profile, err = guard.GetCurrentProfile(user, baseStamp)
	if err != nil {
		t.Fatalf("GetCurrentProfile bounded: %v", err)
	}
	if profile != certif.ProfileStandard {
		t.Errorf("bounded profile = %v, want STANDARD", profile)
	}
}

func TestLastRealmRoleWins(t *testing.T) {
	f := newFixture(t, "")
	realm := ref.NewRealmID()
	user := ref.NewUserID()
	author := certif.DeviceAuthor(ref.NewDeviceID())

	reader := certif.RealmRoleReader
	manager := certif.RealmRoleManager
	f.add(t, &certif.RealmRoleCertificate{
		CertificateBase: certif.CertificateBase{Author: author, Timestamp: baseStamp},
		RealmID:         realm, UserID: user, Role: &reader,
	})
	f.add(t, &certif.RealmRoleCertificate{
		CertificateBase: certif.CertificateBase{Author: author, Timestamp: baseStamp.Add(time.Second)},
		RealmID:         realm, UserID: user, Role: &manager,
	})

	guard := f.read(t)
	last, err := guard.GetLastRealmRoleCertificate(realm, user, 0)
	if err != nil {
		t.Fatalf("GetLastRealmRoleCertificate: %v", err)
	}
	if last.Role == nil || *last.Role != certif.RealmRoleManager {
		t.Errorf("role = %v, want MANAGER", last.Role)
	}

	history, err := guard.GetRealmRoleCertificates(realm, 0)
	if err != nil {
		t.Fatalf("GetRealmRoleCertificates: %v", err)
	}
	if len(history) != 2 || history[0].Base().Timestamp.After(history[1].Base().Timestamp) {
		t.Errorf("history not oldest-first: %d entries", len(history))
	}
}

func TestWatermarksSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "certs.sqlite")
	f := newFixture(t, path)
	user := ref.NewUserID()
	f.add(t, userCert(user, certif.RootAuthor(), baseStamp, certif.ProfileStandard))
	f.store.Close()

	reopened := newFixture(t, path)
	guard := reopened.read(t)
	if got := guard.LastTimestamps().Common; got != baseStamp {
		t.Errorf("reloaded common watermark = %v, want %v", got, baseStamp)
	}
	if _, err := guard.GetUserCertificate(user, 0); err != nil {
		t.Errorf("certificate lost across reopen: %v", err)
	}
}

func TestForgetAllCertificates(t *testing.T) {
	f := newFixture(t, "")
	user := ref.NewUserID()
	f.add(t, userCert(user, certif.RootAuthor(), baseStamp, certif.ProfileStandard))

	guard, err := f.store.ForWrite(context.Background())
	if err != nil {
		t.Fatalf("ForWrite: %v", err)
	}
	if err := guard.ForgetAllCertificates(); err != nil {
		t.Fatalf("ForgetAllCertificates: %v", err)
	}
	guard.Release()

	reader := f.read(t)
	if _, err := reader.GetUserCertificate(user, 0); !errors.Is(err, ErrCertificateNotFound) {
		t.Errorf("after forget: got %v, want ErrCertificateNotFound", err)
	}
	if !reader.LastTimestamps().Common.IsZero() {
		t.Error("watermarks not reset after forget")
	}

	// The ledger accepts a fresh stream from the beginning.
	f.add(t, userCert(user, certif.RootAuthor(), baseStamp, certif.ProfileStandard))
}

func TestRangeRead(t *testing.T) {
	f := newFixture(t, "")
	author := certif.DeviceAuthor(ref.NewDeviceID())
	for i := 0; i < 5; i++ {
		f.add(t, userCert(ref.NewUserID(), author, baseStamp.Add(time.Duration(i)*time.Second), certif.ProfileStandard))
	}

	guard := f.read(t)
	rows, err := guard.GetCertificates(certif.CommonTopic(), 1, 2)
	if err != nil {
		t.Fatalf("GetCertificates: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Index != 1 || rows[1].Index != 2 {
		t.Errorf("indices = %d, %d; want 1, 2", rows[0].Index, rows[1].Index)
	}
	if rows[0].Kind != "user_certificate" {
		t.Errorf("kind = %q", rows[0].Kind)
	}
}
