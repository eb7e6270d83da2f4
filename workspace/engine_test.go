// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/parsec-cloud/go-parsec/certif"
	"github.com/parsec-cloud/go-parsec/certops"
	"github.com/parsec-cloud/go-parsec/certstore"
	"github.com/parsec-cloud/go-parsec/device"
	"github.com/parsec-cloud/go-parsec/events"
	"github.com/parsec-cloud/go-parsec/lib/clock"
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
	"github.com/parsec-cloud/go-parsec/lib/secretbox"
	"github.com/parsec-cloud/go-parsec/lib/sign"
	"github.com/parsec-cloud/go-parsec/manifest"
	"github.com/parsec-cloud/go-parsec/transport"
	"github.com/parsec-cloud/go-parsec/trustchain"
)

var errUnexpectedCommand = errors.New("unexpected server command")

// fakeServer is an in-memory server: certificate streams per topic,
// versioned vlobs, and one keys bundle per realm. Vlob writes enforce
// the version-must-follow rule so the concurrent-write recovery paths
// are exercised for real.
type fakeServer struct {
	selfUser ref.UserID

	// callerDevice is the device attributed to vlob writes, the way a
	// real server derives it from the authenticated connection.
	callerDevice ref.DeviceID

	mu     sync.Mutex
	common [][]byte
	shamir [][]byte
	realms map[ref.RealmID][][]byte

	vlobs   map[ref.VlobID][]storedVlob
	bundles map[ref.RealmID]storedBundle
}

type storedVlob struct {
	blob      []byte
	keyIndex  uint64
	author    ref.DeviceID
	timestamp dtime.Time
}

type storedBundle struct {
	bundle   []byte
	accesses map[ref.UserID][]byte
}

func newFakeServer(selfUser ref.UserID) *fakeServer {
	return &fakeServer{
		selfUser: selfUser,
		realms:   make(map[ref.RealmID][][]byte),
		vlobs:    make(map[ref.VlobID][]storedVlob),
		bundles:  make(map[ref.RealmID]storedBundle),
	}
}

func stampOf(signed []byte) dtime.Time {
	certificate, err := certif.UnsecureDecode(signed)
	if err != nil {
		return 0
	}
	return certificate.Base().Timestamp
}

func newerThan(stream [][]byte, since dtime.Time) [][]byte {
	var out [][]byte
	for _, signed := range stream {
		if stampOf(signed).After(since) {
			out = append(out, signed)
		}
	}
	return out
}

func lastStamp(stream [][]byte) dtime.Time {
	if len(stream) == 0 {
		return 0
	}
	return stampOf(stream[len(stream)-1])
}

func (s *fakeServer) CertificateGet(ctx context.Context, since certif.PerTopicLastTimestamps) (transport.CertificateGetReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reply := transport.CertificatesOK{
		Common: newerThan(s.common, since.Common),
		Shamir: newerThan(s.shamir, since.Shamir),
		Realms: make(map[ref.RealmID][][]byte),
	}
	for realm, stream := range s.realms {
		if fresh := newerThan(stream, since.Realms[realm]); len(fresh) > 0 {
			reply.Realms[realm] = fresh
		}
	}
	return reply, nil
}

func (s *fakeServer) VlobRead(ctx context.Context, request transport.VlobReadRequest) (transport.VlobReadReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.vlobs[request.Vlob]
	if len(versions) == 0 {
		return transport.VlobReadNotFound{}, nil
	}
	at := len(versions)
	if request.AtVersion != 0 {
		if int(request.AtVersion) > len(versions) {
			return transport.VlobReadNotFound{}, nil
		}
		at = int(request.AtVersion)
	}
	stored := versions[at-1]
	return transport.VlobReadOK{
		Blob:      stored.blob,
		KeyIndex:  stored.keyIndex,
		Author:    stored.author,
		Version:   uint32(at),
		Timestamp: stored.timestamp,

		NeededCommonCertificateTimestamp: lastStamp(s.common),
		NeededRealmCertificateTimestamp:  lastStamp(s.realms[request.Realm]),
	}, nil
}

func (s *fakeServer) VlobCreate(ctx context.Context, request transport.VlobCreateRequest) (transport.VlobWriteReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.vlobs[request.Vlob]) > 0 {
		return transport.VlobWriteBadVersion{}, nil
	}
	s.vlobs[request.Vlob] = []storedVlob{{
		blob:      request.Blob,
		keyIndex:  request.KeyIndex,
		author:    s.callerDevice,
		timestamp: request.Timestamp,
	}}
	return transport.VlobWriteOK{}, nil
}

func (s *fakeServer) VlobUpdate(ctx context.Context, request transport.VlobUpdateRequest) (transport.VlobWriteReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.vlobs[request.Vlob]
	if int(request.Version) != len(versions)+1 {
		return transport.VlobWriteBadVersion{}, nil
	}
	s.vlobs[request.Vlob] = append(versions, storedVlob{
		blob:      request.Blob,
		keyIndex:  request.KeyIndex,
		author:    s.callerDevice,
		timestamp: request.Timestamp,
	})
	return transport.VlobWriteOK{}, nil
}

func (s *fakeServer) RealmCreate(ctx context.Context, signedRoleCertificate []byte) (transport.RealmWriteReply, error) {
	certificate, err := certif.UnsecureDecode(signedRoleCertificate)
	if err != nil {
		return nil, err
	}
	role, ok := certificate.(*certif.RealmRoleCertificate)
	if !ok {
		return nil, errUnexpectedCommand
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.realms[role.RealmID]) > 0 {
		return transport.RealmWriteAlreadyExists{}, nil
	}
	s.realms[role.RealmID] = append(s.realms[role.RealmID], signedRoleCertificate)
	return transport.RealmWriteOK{}, nil
}

func (s *fakeServer) RealmRotateKey(ctx context.Context, request transport.RealmRotateKeyRequest) (transport.RealmWriteReply, error) {
	certificate, err := certif.UnsecureDecode(request.SignedRotation)
	if err != nil {
		return nil, err
	}
	rotation, ok := certificate.(*certif.RealmKeyRotationCertificate)
	if !ok {
		return nil, errUnexpectedCommand
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var rotations uint64
	for _, signed := range s.realms[rotation.RealmID] {
		if decoded, err := certif.UnsecureDecode(signed); err == nil {
			if _, isRotation := decoded.(*certif.RealmKeyRotationCertificate); isRotation {
				rotations++
			}
		}
	}
	if rotation.KeyIndex != rotations+1 {
		return transport.RealmWriteBadKeyIndex{
			LastRealmCertificateTimestamp: lastStamp(s.realms[rotation.RealmID]),
		}, nil
	}
	s.realms[rotation.RealmID] = append(s.realms[rotation.RealmID], request.SignedRotation)
	s.bundles[rotation.RealmID] = storedBundle{
		bundle:   request.Bundle,
		accesses: request.PerParticipantAccess,
	}
	return transport.RealmWriteOK{}, nil
}

func (s *fakeServer) RealmRename(ctx context.Context, request transport.RealmRenameRequest) (transport.RealmWriteReply, error) {
	certificate, err := certif.UnsecureDecode(request.SignedName)
	if err != nil {
		return nil, err
	}
	name, ok := certificate.(*certif.RealmNameCertificate)
	if !ok {
		return nil, errUnexpectedCommand
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if request.InitialNameOrFail {
		for _, signed := range s.realms[name.RealmID] {
			if decoded, err := certif.UnsecureDecode(signed); err == nil {
				if _, named := decoded.(*certif.RealmNameCertificate); named {
					return transport.RealmWriteAlreadyExists{}, nil
				}
			}
		}
	}
	s.realms[name.RealmID] = append(s.realms[name.RealmID], request.SignedName)
	return transport.RealmWriteOK{}, nil
}

func (s *fakeServer) RealmGetKeysBundle(ctx context.Context, realm ref.RealmID, keyIndex uint64) (transport.KeysBundleReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, present := s.bundles[realm]
	if !present {
		return transport.KeysBundleBadKeyIndex{}, nil
	}
	access, present := stored.accesses[s.selfUser]
	if !present {
		return transport.KeysBundleNotAllowed{}, nil
	}
	return transport.KeysBundleOK{Bundle: stored.bundle, BundleAccess: access}, nil
}

func (s *fakeServer) DeviceCreate(context.Context, transport.DeviceCreateRequest) (transport.DeviceCreateReply, error) {
	return nil, errUnexpectedCommand
}

func (s *fakeServer) ShamirRecoverySetup(context.Context, transport.ShamirRecoverySetupRequest) (transport.ShamirRecoverySetupReply, error) {
	return nil, errUnexpectedCommand
}

func (s *fakeServer) ShamirRecoveryDelete(context.Context, []byte) (transport.ShamirRecoveryDeleteReply, error) {
	return nil, errUnexpectedCommand
}

type engineFixture struct {
	t       *testing.T
	server  *fakeServer
	engine  *Engine
	storage *Storage
	ops     *certops.Ops
	bus     *events.Bus
	clock   *clock.FakeClock
	dev     *device.LocalDevice
	rootKey sign.SigningKey
	realm   ref.RealmID

	now dtime.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rootKey, err := sign.GenerateSigningKey()
	if err != nil {
		t.Fatal(err)
	}
	dev, err := device.Generate(ref.NewUserID(), rootKey.VerifyKey(), certif.ProfileAdmin)
	if err != nil {
		t.Fatal(err)
	}

	f := &engineFixture{
		t:       t,
		server:  newFakeServer(dev.UserID),
		bus:     events.NewBus(),
		clock:   clock.Fake(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)),
		dev:     dev,
		rootKey: rootKey,
		realm:   ref.NewRealmID(),
		now:     dtime.FromStd(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)),
	}
	f.server.callerDevice = dev.DeviceID

	store, err := certstore.Open(certstore.Config{Path: ":memory:", PoolSize: 1, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	ops, err := certops.New(certops.Config{
		Store:      store,
		Validator:  trustchain.New(rootKey.VerifyKey(), logger),
		Client:     f.server,
		Bus:        f.bus,
		Clock:      f.clock,
		Logger:     logger,
		SelfUser:   dev.UserID,
		SelfDevice: dev.DeviceID,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(ops.Stop)
	f.ops = ops

	storage, err := OpenStorage(StorageConfig{
		Path:     ":memory:",
		PoolSize: 1,
		Key:      dev.LocalKey,
		Logger:   logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { storage.Close() })
	f.storage = storage

	f.engine = f.newEngine()
	f.seedSelf()
	return f
}

// newEngine builds a fresh engine over the fixture's shared stores,
// with an empty realm key cache.
func (f *engineFixture) newEngine() *Engine {
	f.t.Helper()
	engine, err := New(Config{
		Realm:   f.realm,
		Storage: f.storage,
		Ops:     f.ops,
		Client:  f.server,
		Bus:     f.bus,
		Clock:   f.clock,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Device:  f.dev,
	})
	if err != nil {
		f.t.Fatal(err)
	}
	return engine
}

func (f *engineFixture) next() dtime.Time {
	f.now = f.now.Add(time.Second)
	return f.now
}

func (f *engineFixture) sign(key sign.SigningKey, certificate certif.Certificate) []byte {
	f.t.Helper()
	signed, err := certif.Sign(key, certificate)
	if err != nil {
		f.t.Fatal(err)
	}
	return signed
}

// seedSelf registers the local user and device on the fake server,
// root-signed.
func (f *engineFixture) seedSelf() {
	f.t.Helper()
	user := f.sign(f.rootKey, &certif.UserCertificate{
		CertificateBase: certif.CertificateBase{Author: certif.RootAuthor(), Timestamp: f.next()},
		UserID:          f.dev.UserID,
		HumanHandle:     &certif.HumanHandle{Email: "self@example.com", Label: "Self"},
		PublicKey:       f.dev.AgeKeys.PublicKey,
		Profile:         certif.ProfileAdmin,
	})
	dev := f.sign(f.rootKey, &certif.DeviceCertificate{
		CertificateBase: certif.CertificateBase{Author: certif.RootAuthor(), Timestamp: f.next()},
		UserID:          f.dev.UserID,
		DeviceID:        f.dev.DeviceID,
		DeviceLabel:     labelPtr("laptop"),
		VerifyKey:       f.dev.VerifyKey(),
	})
	f.server.mu.Lock()
	f.server.common = append(f.server.common, user, dev)
	f.server.mu.Unlock()
}

// seedOtherDevice registers a second user and device, enrolled by the
// local admin, and returns its identity.
func (f *engineFixture) seedOtherDevice() (ref.DeviceID, sign.SigningKey) {
	f.t.Helper()
	otherUser := ref.NewUserID()
	otherDevice := ref.NewDeviceID()
	otherKey, err := sign.GenerateSigningKey()
	if err != nil {
		f.t.Fatal(err)
	}

	user := f.sign(f.dev.SigningKey, &certif.UserCertificate{
		CertificateBase: certif.CertificateBase{Author: f.dev.Author(), Timestamp: f.next()},
		UserID:          otherUser,
		HumanHandle:     &certif.HumanHandle{Email: "other@example.com", Label: "Other"},
		PublicKey:       "age1qyqszqgpqyqszqgpqyqszqgpqyqszqgpqyqszqgpqyqszqgpqyqs3290gq",
		Profile:         certif.ProfileStandard,
	})
	dev := f.sign(f.dev.SigningKey, &certif.DeviceCertificate{
		CertificateBase: certif.CertificateBase{Author: f.dev.Author(), Timestamp: f.next()},
		UserID:          otherUser,
		DeviceID:        otherDevice,
		DeviceLabel:     labelPtr("phone"),
		VerifyKey:       otherKey.VerifyKey(),
	})
	f.server.mu.Lock()
	f.server.common = append(f.server.common, user, dev)
	f.server.mu.Unlock()
	return otherDevice, otherKey
}

func (f *engineFixture) bootstrap() {
	f.t.Helper()
	if err := f.engine.Bootstrap(context.Background(), "project-x"); err != nil {
		f.t.Fatalf("bootstrap failed: %v", err)
	}
}

// realmKey extracts the realm key the bootstrap published, the way any
// member device would: by opening the server-side keys bundle.
func (f *engineFixture) realmKey() secretbox.Key {
	f.t.Helper()
	f.server.mu.Lock()
	stored := f.server.bundles[f.realm]
	f.server.mu.Unlock()

	payload, err := OpenKeysBundle(f.dev.AgeKeys.PrivateKey, stored.bundle, stored.accesses[f.dev.UserID])
	if err != nil {
		f.t.Fatal(err)
	}
	key, err := secretbox.KeyFromBytes(payload.Keys[1])
	if err != nil {
		f.t.Fatal(err)
	}
	return key
}

// seedRemoteVlob stores a manifest on the fake server as if another
// device had pushed it, bypassing the version check.
func (f *engineFixture) seedRemoteVlob(m manifest.Manifest, author ref.DeviceID, authorKey sign.SigningKey) {
	f.t.Helper()
	blob, err := manifest.Seal(f.realmKey(), authorKey, m)
	if err != nil {
		f.t.Fatal(err)
	}
	vlob := ref.VlobIDFromEntry(m.Base().ID)
	f.server.mu.Lock()
	f.server.vlobs[vlob] = append(f.server.vlobs[vlob], storedVlob{
		blob:      blob,
		keyIndex:  1,
		author:    author,
		timestamp: m.Base().Timestamp,
	})
	f.server.mu.Unlock()
}

// serverWorkspace decodes the latest stored root manifest.
func (f *engineFixture) serverWorkspace(entry ref.EntryID) (manifest.WorkspaceManifest, int) {
	f.t.Helper()
	f.server.mu.Lock()
	versions := f.server.vlobs[ref.VlobIDFromEntry(entry)]
	f.server.mu.Unlock()
	if len(versions) == 0 {
		f.t.Fatal("no vlob stored for root")
	}
	signed, err := manifest.Unseal(f.realmKey(), versions[len(versions)-1].blob)
	if err != nil {
		f.t.Fatal(err)
	}
	decoded, err := manifest.UnsecureDecode(signed)
	if err != nil {
		f.t.Fatal(err)
	}
	root, ok := decoded.(*manifest.WorkspaceManifest)
	if !ok {
		f.t.Fatalf("stored root is a %T", decoded)
	}
	return *root, len(versions)
}

func (f *engineFixture) rootManifest() *manifest.LocalWorkspaceManifest {
	f.t.Helper()
	stored, err := f.storage.GetManifest(context.Background(), f.engine.RootEntry())
	if err != nil {
		f.t.Fatal(err)
	}
	root, ok := stored.(*manifest.LocalWorkspaceManifest)
	if !ok {
		f.t.Fatalf("root is a %T", stored)
	}
	return root
}

func labelPtr(s string) *string { return &s }

func mustEntryName(t *testing.T, raw string) ref.EntryName {
	t.Helper()
	name, err := ref.ParseEntryName(raw)
	if err != nil {
		t.Fatal(err)
	}
	return name
}

func TestBootstrapCreatesRealm(t *testing.T) {
	f := newEngineFixture(t)

	var bootstrapped []events.EventWorkspaceBootstrapped
	sub := events.On(f.bus, func(e events.EventWorkspaceBootstrapped) {
		bootstrapped = append(bootstrapped, e)
	})
	defer sub.Close()

	f.bootstrap()

	done, err := f.engine.IsBootstrapped(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("IsBootstrapped = false after bootstrap")
	}
	if len(bootstrapped) != 1 || bootstrapped[0].Realm != f.realm {
		t.Fatalf("bootstrapped events = %v, want one for %s", bootstrapped, f.realm)
	}

	// The published canary must match the key in the bundle.
	rotation, err := f.ops.GetLastRealmKeyRotation(context.Background(), f.realm)
	if err != nil {
		t.Fatal(err)
	}
	if rotation == nil || rotation.KeyIndex != 1 {
		t.Fatalf("rotation = %+v, want key index 1", rotation)
	}
	if err := VerifyCanary(f.realmKey(), rotation.KeyCanary); err != nil {
		t.Fatal(err)
	}

	// The realm name travels encrypted; the server-side certificate must
	// decrypt to the requested name with the realm key.
	f.server.mu.Lock()
	stream := f.server.realms[f.realm]
	f.server.mu.Unlock()
	var name *certif.RealmNameCertificate
	for _, signed := range stream {
		decoded, err := certif.UnsecureDecode(signed)
		if err != nil {
			t.Fatal(err)
		}
		if n, ok := decoded.(*certif.RealmNameCertificate); ok {
			name = n
		}
	}
	if name == nil {
		t.Fatal("no realm name certificate on the server")
	}
	plaintext, err := f.realmKey().Decrypt(name.EncryptedName)
	if err != nil {
		t.Fatal(err)
	}
	if string(plaintext) != "project-x" {
		t.Fatalf("realm name = %q, want %q", plaintext, "project-x")
	}

	// A second bootstrap is a no-op: every step sees its certificate.
	before := len(stream)
	f.bootstrap()
	f.server.mu.Lock()
	after := len(f.server.realms[f.realm])
	f.server.mu.Unlock()
	if after != before {
		t.Fatalf("re-bootstrap grew the realm stream from %d to %d certificates", before, after)
	}
}

func TestOutboundSyncCreatesRootVlob(t *testing.T) {
	f := newEngineFixture(t)
	f.bootstrap()

	var synced []events.EventEntryOutboundSyncDone
	sub := events.On(f.bus, func(e events.EventEntryOutboundSyncDone) {
		synced = append(synced, e)
	})
	defer sub.Close()

	if err := f.engine.OutboundSync(context.Background(), f.engine.RootEntry()); err != nil {
		t.Fatal(err)
	}

	root, versions := f.serverWorkspace(f.engine.RootEntry())
	if versions != 1 || root.Version != 1 {
		t.Fatalf("server root at version %d (%d stored), want 1", root.Version, versions)
	}
	if root.Author != f.dev.DeviceID {
		t.Fatalf("root author = %s, want %s", root.Author, f.dev.DeviceID)
	}

	local := f.rootManifest()
	if local.NeedSync {
		t.Fatal("root still marked NeedSync after a successful push")
	}
	if local.Speculative {
		t.Fatal("root still speculative after its first push")
	}
	if len(synced) != 1 || synced[0].Version != 1 {
		t.Fatalf("sync events = %+v, want one at version 1", synced)
	}

	// Nothing pending: a second pass pushes nothing.
	if err := f.engine.OutboundSync(context.Background(), f.engine.RootEntry()); err != nil {
		t.Fatal(err)
	}
	if _, versions := f.serverWorkspace(f.engine.RootEntry()); versions != 1 {
		t.Fatalf("no-op sync pushed a new version (%d stored)", versions)
	}
}

func TestInboundSyncAdoptsRemoteFolder(t *testing.T) {
	f := newEngineFixture(t)
	f.bootstrap()
	if err := f.engine.OutboundSync(context.Background(), f.engine.RootEntry()); err != nil {
		t.Fatal(err)
	}

	otherDevice, otherKey := f.seedOtherDevice()

	// The other device pushes root v2 adding a "docs" folder.
	folderID := ref.NewEntryID()
	stamp := f.next()
	folder := manifest.FolderManifest{
		ManifestBase: manifest.ManifestBase{
			Author:    otherDevice,
			Timestamp: stamp,
			ID:        folderID,
			Version:   1,
			Created:   stamp,
			Updated:   stamp,
		},
		Parent:   f.engine.RootEntry(),
		Children: map[ref.EntryName]ref.EntryID{},
	}
	f.seedRemoteVlob(&folder, otherDevice, otherKey)

	rootV1, _ := f.serverWorkspace(f.engine.RootEntry())
	rootV2 := rootV1
	rootV2.Author = otherDevice
	rootV2.Timestamp = f.next()
	rootV2.Version = 2
	rootV2.Updated = rootV2.Timestamp
	rootV2.Children = map[ref.EntryName]ref.EntryID{
		mustEntryName(t, "docs"): folderID,
	}
	f.seedRemoteVlob(&rootV2, otherDevice, otherKey)

	var inbound []events.EventEntryInboundSyncDone
	sub := events.On(f.bus, func(e events.EventEntryInboundSyncDone) {
		inbound = append(inbound, e)
	})
	defer sub.Close()

	if err := f.engine.InboundSync(context.Background(), f.engine.RootEntry()); err != nil {
		t.Fatal(err)
	}

	local := f.rootManifest()
	if local.Base.Version != 2 {
		t.Fatalf("root base version = %d, want 2", local.Base.Version)
	}
	if local.NeedSync {
		t.Fatal("clean fast-forward left NeedSync set")
	}
	if local.Children[mustEntryName(t, "docs")] != folderID {
		t.Fatal("docs folder not adopted into root children")
	}

	// The unknown child was queued; its own inbound pass adopts it.
	if err := f.engine.InboundSync(context.Background(), folderID); err != nil {
		t.Fatal(err)
	}
	stored, err := f.storage.GetManifest(context.Background(), folderID)
	if err != nil {
		t.Fatal(err)
	}
	adopted, ok := stored.(*manifest.LocalFolderManifest)
	if !ok {
		t.Fatalf("folder stored as %T", stored)
	}
	if adopted.Base.Version != 1 || adopted.Parent != f.engine.RootEntry() {
		t.Fatal("folder manifest adopted incorrectly")
	}
	if len(inbound) != 2 {
		t.Fatalf("got %d inbound events, want 2", len(inbound))
	}
}

func TestOutboundConflictRetry(t *testing.T) {
	f := newEngineFixture(t)
	f.bootstrap()
	ctx := context.Background()

	// Root v1 holds foo.txt.
	fooID := ref.NewEntryID()
	root := f.rootManifest()
	root.Children[mustEntryName(t, "foo.txt")] = fooID
	root.Updated = f.next()
	if err := f.storage.SetManifest(ctx, root.Base.ID, root); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.OutboundSync(ctx, f.engine.RootEntry()); err != nil {
		t.Fatal(err)
	}

	// Local, unsynced: foo.txt renamed to bar.txt.
	root = f.rootManifest()
	delete(root.Children, mustEntryName(t, "foo.txt"))
	root.Children[mustEntryName(t, "bar.txt")] = fooID
	root.NeedSync = true
	root.Updated = f.next()
	if err := f.storage.SetManifest(ctx, root.Base.ID, root); err != nil {
		t.Fatal(err)
	}

	// Concurrently the other device lands v2 with an unrelated addition.
	otherDevice, otherKey := f.seedOtherDevice()
	bazID := ref.NewEntryID()
	rootV1, _ := f.serverWorkspace(f.engine.RootEntry())
	rootV2 := rootV1
	rootV2.Author = otherDevice
	rootV2.Timestamp = f.next()
	rootV2.Version = 2
	rootV2.Updated = rootV2.Timestamp
	rootV2.Children = map[ref.EntryName]ref.EntryID{
		mustEntryName(t, "foo.txt"): fooID,
		mustEntryName(t, "baz.txt"): bazID,
	}
	f.seedRemoteVlob(&rootV2, otherDevice, otherKey)

	// The push hits the version conflict, merges v2, and lands v3 with
	// both sides' changes.
	if err := f.engine.OutboundSync(ctx, f.engine.RootEntry()); err != nil {
		t.Fatal(err)
	}

	final, versions := f.serverWorkspace(f.engine.RootEntry())
	if versions != 3 || final.Version != 3 {
		t.Fatalf("server root at version %d (%d stored), want 3", final.Version, versions)
	}
	if final.Children[mustEntryName(t, "bar.txt")] != fooID {
		t.Fatal("local rename lost in the merge")
	}
	if final.Children[mustEntryName(t, "baz.txt")] != bazID {
		t.Fatal("remote addition lost in the merge")
	}
	if _, stale := final.Children[mustEntryName(t, "foo.txt")]; stale {
		t.Fatal("renamed entry still present under its old name")
	}

	local := f.rootManifest()
	if local.NeedSync {
		t.Fatal("root still marked NeedSync after the retry landed")
	}
	if local.Base.Version != 3 {
		t.Fatalf("root base version = %d, want 3", local.Base.Version)
	}
}

// seedConflictedFile stores a locally-edited "report.txt" under the
// root and publishes a diverging remote v2 for it, so the next inbound
// sync of the file resolves a conflict.
func (f *engineFixture) seedConflictedFile(ctx context.Context) ref.EntryID {
	f.t.Helper()
	otherDevice, otherKey := f.seedOtherDevice()

	// A synced file under the root, then a local edit left unsynced.
	fileID := ref.NewEntryID()
	stamp := f.next()
	remoteV1 := manifest.FileManifest{
		ManifestBase: manifest.ManifestBase{
			Author:    otherDevice,
			Timestamp: stamp,
			ID:        fileID,
			Version:   1,
			Created:   stamp,
			Updated:   stamp,
		},
		Parent: f.engine.RootEntry(),
		Size:   3,
		Blob:   manifest.BlobAccess{ID: ref.NewBlobID(), Key: []byte("k1"), Digest: []byte("d1"), Size: 3},
	}
	local := manifest.FileFromRemote(remoteV1)
	local.NeedSync = true
	local.Updated = f.next()
	local.Size = 9
	local.Blob = manifest.BlobAccess{ID: ref.NewBlobID(), Key: []byte("k2"), Digest: []byte("d2"), Size: 9}
	if err := f.storage.SetManifest(ctx, fileID, &local); err != nil {
		f.t.Fatal(err)
	}

	root := f.rootManifest()
	root.Children[mustEntryName(f.t, "report.txt")] = fileID
	if err := f.storage.SetManifest(ctx, root.Base.ID, root); err != nil {
		f.t.Fatal(err)
	}

	// The other device rewrote the file concurrently.
	remoteV2 := remoteV1
	remoteV2.Timestamp = f.next()
	remoteV2.Version = 2
	remoteV2.Updated = remoteV2.Timestamp
	remoteV2.Size = 5
	remoteV2.Blob = manifest.BlobAccess{ID: ref.NewBlobID(), Key: []byte("k3"), Digest: []byte("d3"), Size: 5}
	f.seedRemoteVlob(&remoteV1, otherDevice, otherKey)
	f.seedRemoteVlob(&remoteV2, otherDevice, otherKey)
	return fileID
}

func TestInboundFileConflictMaterializesCopy(t *testing.T) {
	f := newEngineFixture(t)
	f.bootstrap()
	ctx := context.Background()
	fileID := f.seedConflictedFile(ctx)

	var conflicts []events.EventEntryConflictResolved
	sub := events.On(f.bus, func(e events.EventEntryConflictResolved) {
		conflicts = append(conflicts, e)
	})
	defer sub.Close()

	if err := f.engine.InboundSync(ctx, fileID); err != nil {
		t.Fatal(err)
	}

	if len(conflicts) != 1 || conflicts[0].Entry != fileID {
		t.Fatalf("conflict events = %+v, want one for %s", conflicts, fileID)
	}
	copiedAs := conflicts[0].CopiedAs

	// The contested entry adopted the remote version.
	stored, err := f.storage.GetManifest(ctx, fileID)
	if err != nil {
		t.Fatal(err)
	}
	adopted := stored.(*manifest.LocalFileManifest)
	if adopted.Base.Version != 2 || adopted.NeedSync || adopted.Size != 5 {
		t.Fatalf("contested entry = %+v, want clean adoption of v2", adopted)
	}

	// The local edit survived as a conflict-named placeholder sibling.
	stored, err = f.storage.GetManifest(ctx, copiedAs)
	if err != nil {
		t.Fatal(err)
	}
	copied := stored.(*manifest.LocalFileManifest)
	if !copied.IsPlaceholder() || !copied.NeedSync || copied.Size != 9 {
		t.Fatalf("conflict copy = %+v, want a pending placeholder with the local content", copied)
	}

	root := f.rootManifest()
	if root.Children[mustEntryName(t, "report (Parsec - name conflict).txt")] != copiedAs {
		t.Fatal("conflict copy not linked into the parent under the conflict name")
	}
	if root.Children[mustEntryName(t, "report.txt")] != fileID {
		t.Fatal("contested entry lost its original name")
	}
	if !root.NeedSync {
		t.Fatal("parent not marked for outbound sync after gaining the conflict copy")
	}
}

func TestInboundFileConflictDefersWhileParentBusy(t *testing.T) {
	f := newEngineFixture(t)
	f.bootstrap()
	ctx := context.Background()
	fileID := f.seedConflictedFile(ctx)
	parent := f.engine.RootEntry()

	// The parent is mid-sync elsewhere: resolution must defer, not
	// mutate the parent manifest underneath it.
	if !f.engine.tryLock(parent, f.engine.pendingIn) {
		t.Fatal("parent unexpectedly busy")
	}

	var conflicts []events.EventEntryConflictResolved
	sub := events.On(f.bus, func(e events.EventEntryConflictResolved) {
		conflicts = append(conflicts, e)
	})
	defer sub.Close()

	if err := f.engine.InboundSync(ctx, fileID); err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 0 {
		t.Fatal("conflict resolved while the parent was busy")
	}

	// The local edit is untouched and the sync is queued for retry.
	stored, err := f.storage.GetManifest(ctx, fileID)
	if err != nil {
		t.Fatal(err)
	}
	if file := stored.(*manifest.LocalFileManifest); !file.NeedSync || file.Size != 9 {
		t.Fatalf("local edit disturbed while deferred: %+v", file)
	}
	f.engine.mu.Lock()
	_, queued := f.engine.pendingIn[fileID]
	f.engine.mu.Unlock()
	if !queued {
		t.Fatal("deferred conflict not queued for a later pass")
	}

	f.engine.unlock(parent)
	if err := f.engine.InboundSync(ctx, fileID); err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("conflict events after retry = %d, want 1", len(conflicts))
	}
}

func TestKeyCanaryMismatchRejected(t *testing.T) {
	f := newEngineFixture(t)
	f.bootstrap()

	// The server swaps in a bundle whose key does not match the rotation
	// certificate's canary.
	wrongKey, err := secretbox.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	bundle, accesses, err := BuildKeysBundle(f.realm,
		map[uint64][]byte{1: wrongKey.Bytes()},
		map[ref.UserID]string{f.dev.UserID: f.dev.AgeKeys.PublicKey})
	if err != nil {
		t.Fatal(err)
	}
	f.server.mu.Lock()
	f.server.bundles[f.realm] = storedBundle{bundle: bundle, accesses: accesses}
	f.server.mu.Unlock()

	// A fresh engine has no cached key and must fetch the tampered
	// bundle.
	engine := f.newEngine()
	if _, err := engine.keyFor(context.Background(), 1); !errors.Is(err, ErrKeyCanaryMismatch) {
		t.Fatalf("error = %v, want ErrKeyCanaryMismatch", err)
	}
}
