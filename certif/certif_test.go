// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package certif

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
	"github.com/parsec-cloud/go-parsec/lib/sign"
)

var testStamp = dtime.FromStd(time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC))

func testSigningKey(t *testing.T) sign.SigningKey {
	t.Helper()
	key, err := sign.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	return key
}

func TestSignVerifyDecodeRoundTrip(t *testing.T) {
	key := testSigningKey(t)
	author := DeviceAuthor(ref.NewDeviceID())
	user := ref.NewUserID()

	original := &UserCertificate{
		CertificateBase: CertificateBase{Author: author, Timestamp: testStamp},
		UserID:          user,
		HumanHandle:     &HumanHandle{Email: "alice@example.com", Label: "Alice"},
		PublicKey:       "age1example",
		Profile:         ProfileStandard,
	}

	signed, err := Sign(key, original)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	decoded, err := VerifyAndDecode(signed, key.VerifyKey())
	if err != nil {
		t.Fatalf("VerifyAndDecode: %v", err)
	}

	cert, ok := decoded.(*UserCertificate)
	if !ok {
		t.Fatalf("decoded type = %T, want *UserCertificate", decoded)
	}
	if cert.UserID != user {
		t.Errorf("UserID = %v, want %v", cert.UserID, user)
	}
	if cert.Base().Author != author {
		t.Errorf("Author = %v, want %v", cert.Base().Author, author)
	}
	if cert.Base().Timestamp != testStamp {
		t.Errorf("Timestamp = %v, want %v", cert.Base().Timestamp, testStamp)
	}
	if cert.HumanHandle == nil || cert.HumanHandle.Email != "alice@example.com" {
		t.Errorf("HumanHandle = %+v", cert.HumanHandle)
	}
	if cert.IsRedacted() {
		t.Error("certificate with handle must not report redacted")
	}
}

func TestVerifyAndDecodeRejectsTampering(t *testing.T) {
	key := testSigningKey(t)
	signed, err := Sign(key, &RevokedUserCertificate{
		CertificateBase: CertificateBase{Author: DeviceAuthor(ref.NewDeviceID()), Timestamp: testStamp},
		UserID:          ref.NewUserID(),
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	signed[3] ^= 0xFF
	if _, err := VerifyAndDecode(signed, key.VerifyKey()); !errors.Is(err, sign.ErrInvalidSignature) {
		t.Errorf("tampered: got %v, want ErrInvalidSignature", err)
	}
}

func TestUnsecureDecodeSkipsSignatureCheck(t *testing.T) {
	key := testSigningKey(t)
	device := ref.NewDeviceID()
	signed, err := Sign(key, &DeviceCertificate{
		CertificateBase: CertificateBase{Author: DeviceAuthor(device), Timestamp: testStamp},
		UserID:          ref.NewUserID(),
		DeviceID:        ref.NewDeviceID(),
		VerifyKey:       key.VerifyKey(),
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	// Corrupt only the signature; the payload stays intact.
	signed[len(signed)-1] ^= 0xFF

	decoded, err := UnsecureDecode(signed)
	if err != nil {
		t.Fatalf("UnsecureDecode: %v", err)
	}
	if got, _ := decoded.Base().Author.Device(); got != device {
		t.Errorf("author = %v, want %v", got, device)
	}

	if _, err := VerifyAndDecode(signed, key.VerifyKey()); err == nil {
		t.Error("VerifyAndDecode must reject the corrupted signature")
	}
}

func TestSignIsDeterministic(t *testing.T) {
	key := testSigningKey(t)
	cert := &RealmKeyRotationCertificate{
		CertificateBase: CertificateBase{Author: DeviceAuthor(ref.NewDeviceID()), Timestamp: testStamp},
		RealmID:         ref.NewRealmID(),
		KeyIndex:        1,
		KeyCanary:       []byte{1, 2, 3},
	}

	first, err := Sign(key, cert)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	second, err := Sign(key, cert)
	if err != nil {
		t.Fatalf("Sign (second): %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("signing the same certificate twice produced different bytes")
	}
}

func TestTopicPerVariant(t *testing.T) {
	realm := ref.NewRealmID()
	tests := []struct {
		certificate Certificate
		topic       Topic
	}{
		{&UserCertificate{}, CommonTopic()},
		{&DeviceCertificate{}, CommonTopic()},
		{&UserUpdateCertificate{}, CommonTopic()},
		{&RevokedUserCertificate{}, CommonTopic()},
		{&RealmRoleCertificate{RealmID: realm}, RealmTopic(realm)},
		{&RealmNameCertificate{RealmID: realm}, RealmTopic(realm)},
		{&RealmKeyRotationCertificate{RealmID: realm}, RealmTopic(realm)},
		{&RealmArchivingCertificate{RealmID: realm}, RealmTopic(realm)},
		{&ShamirRecoveryBriefCertificate{}, ShamirTopic()},
		{&ShamirRecoveryShareCertificate{}, ShamirTopic()},
		{&ShamirRecoveryDeletionCertificate{}, ShamirTopic()},
		{&SequesterAuthorityCertificate{}, SequesterTopic()},
		{&SequesterServiceCertificate{}, SequesterTopic()},
		{&SequesterRevokedServiceCertificate{}, SequesterTopic()},
	}
	for _, test := range tests {
		if got := test.certificate.Topic(); got != test.topic {
			t.Errorf("%T.Topic() = %v, want %v", test.certificate, got, test.topic)
		}
	}
}

func TestAllVariantsRoundTripThroughDecode(t *testing.T) {
	key := testSigningKey(t)
	author := DeviceAuthor(ref.NewDeviceID())
	base := CertificateBase{Author: author, Timestamp: testStamp}
	realm := ref.NewRealmID()
	user := ref.NewUserID()
	role := RealmRoleOwner

	variants := []Certificate{
		&UserCertificate{CertificateBase: base, UserID: user, PublicKey: "age1x", Profile: ProfileAdmin},
		&DeviceCertificate{CertificateBase: base, UserID: user, DeviceID: ref.NewDeviceID(), VerifyKey: key.VerifyKey()},
		&UserUpdateCertificate{CertificateBase: base, UserID: user, NewProfile: ProfileOutsider},
		&RevokedUserCertificate{CertificateBase: base, UserID: user},
		&RealmRoleCertificate{CertificateBase: base, RealmID: realm, UserID: user, Role: &role},
		&RealmNameCertificate{CertificateBase: base, RealmID: realm, KeyIndex: 2, EncryptedName: []byte{9}},
		&RealmKeyRotationCertificate{CertificateBase: base, RealmID: realm, KeyIndex: 2, KeyCanary: []byte{7}},
		&RealmArchivingCertificate{CertificateBase: base, RealmID: realm, Configuration: RealmArchived},
		&ShamirRecoveryBriefCertificate{CertificateBase: base, UserID: user, Threshold: 2, Recipients: []ShamirRecipient{{UserID: ref.NewUserID(), Shares: 1}}},
		&ShamirRecoveryShareCertificate{CertificateBase: base, UserID: user, Recipient: ref.NewUserID(), CiphertextShare: []byte{4}},
		&ShamirRecoveryDeletionCertificate{CertificateBase: base, SetupUserID: user, SetupTimestamp: testStamp, ShareRecipients: []ref.UserID{ref.NewUserID()}},
		&SequesterAuthorityCertificate{CertificateBase: base, VerifyKey: key.VerifyKey()},
		&SequesterServiceCertificate{CertificateBase: base, ServiceID: "svc-1", ServiceLabel: "Escrow", PublicKey: "age1y"},
		&SequesterRevokedServiceCertificate{CertificateBase: base, ServiceID: "svc-1"},
	}

	for _, original := range variants {
		signed, err := Sign(key, original)
		if err != nil {
			t.Fatalf("Sign(%T): %v", original, err)
		}
		decoded, err := VerifyAndDecode(signed, key.VerifyKey())
		if err != nil {
			t.Fatalf("VerifyAndDecode(%T): %v", original, err)
		}
		if gotType, wantType := decoded.Topic(), original.Topic(); gotType != wantType {
			t.Errorf("%T: topic = %v, want %v", original, gotType, wantType)
		}
		if decoded.Base().Timestamp != testStamp {
			t.Errorf("%T: timestamp lost in round-trip", original)
		}
	}
}

func TestParseTopicRoundTrip(t *testing.T) {
	topics := []Topic{CommonTopic(), SequesterTopic(), ShamirTopic(), RealmTopic(ref.NewRealmID())}
	for _, topic := range topics {
		parsed, err := ParseTopic(topic.String())
		if err != nil {
			t.Fatalf("ParseTopic(%q): %v", topic.String(), err)
		}
		if parsed != topic {
			t.Errorf("ParseTopic(%q) = %v, want %v", topic.String(), parsed, topic)
		}
	}
	if _, err := ParseTopic("bogus"); err == nil {
		t.Error("expected error for unknown topic")
	}
}

func TestWatermarks(t *testing.T) {
	realm := ref.NewRealmID()
	var empty PerTopicLastTimestamps

	updated := empty.WithTopic(CommonTopic(), testStamp)
	updated = updated.WithTopic(RealmTopic(realm), testStamp.Add(time.Second))

	if got := updated.ForTopic(CommonTopic()); got != testStamp {
		t.Errorf("common watermark = %v, want %v", got, testStamp)
	}
	if got := updated.ForTopic(RealmTopic(realm)); got != testStamp.Add(time.Second) {
		t.Errorf("realm watermark = %v", got)
	}
	if got := updated.ForTopic(ShamirTopic()); !got.IsZero() {
		t.Errorf("untouched topic watermark = %v, want zero", got)
	}

	if !empty.AnyNewerThan(updated) {
		t.Error("updated should be newer than empty")
	}
	if updated.AnyNewerThan(empty) {
		t.Error("empty should not be newer than updated")
	}

	// WithTopic must not alias the receiver's realm map.
	if len(empty.Realms) != 0 {
		t.Error("WithTopic mutated its receiver")
	}
}
