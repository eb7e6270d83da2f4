// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
	"github.com/parsec-cloud/go-parsec/lib/secretbox"
	"github.com/parsec-cloud/go-parsec/manifest"
)

func testStorage(t *testing.T) *Storage {
	t.Helper()
	key, err := secretbox.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	storage, err := OpenStorage(StorageConfig{
		Path:     ":memory:",
		PoolSize: 1,
		Key:      key,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestStorageManifestRoundTrip(t *testing.T) {
	storage := testStorage(t)
	ctx := context.Background()
	stamp := dtime.FromStd(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))

	folder := manifest.NewPlaceholderFolder(ref.NewEntryID(), ref.NewEntryID(), stamp)
	child, err := ref.ParseEntryName("notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	folder.Children[child] = ref.NewEntryID()

	if err := storage.SetManifest(ctx, folder.Base.ID, &folder); err != nil {
		t.Fatal(err)
	}
	loaded, err := storage.GetManifest(ctx, folder.Base.ID)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := loaded.(*manifest.LocalFolderManifest)
	if !ok {
		t.Fatalf("loaded a %T, want a folder", loaded)
	}
	if got.Base.ID != folder.Base.ID || !got.NeedSync {
		t.Fatal("folder manifest lost fields in the round trip")
	}
	if got.Children[child] != folder.Children[child] {
		t.Fatal("children lost in the round trip")
	}
}

func TestStorageManifestNotFound(t *testing.T) {
	storage := testStorage(t)
	_, err := storage.GetManifest(context.Background(), ref.NewEntryID())
	if !errors.Is(err, ErrManifestNotFound) {
		t.Fatalf("error = %v, want ErrManifestNotFound", err)
	}
}

func TestStorageListNeedSync(t *testing.T) {
	storage := testStorage(t)
	ctx := context.Background()
	stamp := dtime.FromStd(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))

	pending := manifest.NewPlaceholderFile(ref.NewEntryID(), ref.NewEntryID(), stamp)
	if err := storage.SetManifest(ctx, pending.Base.ID, &pending); err != nil {
		t.Fatal(err)
	}

	clean := manifest.FileFromRemote(manifest.FileManifest{
		ManifestBase: manifest.ManifestBase{ID: ref.NewEntryID(), Version: 3},
	})
	if err := storage.SetManifest(ctx, clean.Base.ID, &clean); err != nil {
		t.Fatal(err)
	}

	entries, err := storage.ListNeedSync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0] != pending.Base.ID {
		t.Fatalf("ListNeedSync = %v, want exactly %s", entries, pending.Base.ID)
	}

	// Replacing the manifest with a synced version clears the listing.
	synced := manifest.FileFromRemote(pending.ToRemote(ref.NewDeviceID(), stamp))
	if err := storage.SetManifest(ctx, pending.Base.ID, &synced); err != nil {
		t.Fatal(err)
	}
	entries, err = storage.ListNeedSync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("ListNeedSync after sync = %v, want empty", entries)
	}
}

func TestStorageCheckpoint(t *testing.T) {
	storage := testStorage(t)
	ctx := context.Background()

	value, err := storage.Checkpoint(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if value != 0 {
		t.Fatalf("fresh checkpoint = %d, want 0", value)
	}

	if err := storage.SetCheckpoint(ctx, 42); err != nil {
		t.Fatal(err)
	}
	if err := storage.SetCheckpoint(ctx, 43); err != nil {
		t.Fatal(err)
	}
	value, err = storage.Checkpoint(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if value != 43 {
		t.Fatalf("checkpoint = %d, want 43", value)
	}
}

func TestStorageBlobsAreSealed(t *testing.T) {
	// Two storages with different keys must not read each other's rows.
	keyA, err := secretbox.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	keyB, err := secretbox.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	stamp := dtime.FromStd(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	folder := manifest.NewPlaceholderFolder(ref.NewEntryID(), ref.NewEntryID(), stamp)
	blob, err := manifest.SealLocal(keyA, &folder)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := manifest.OpenLocal(keyB, blob); !errors.Is(err, secretbox.ErrDecryptionFailed) {
		t.Fatalf("error = %v, want ErrDecryptionFailed", err)
	}
}
