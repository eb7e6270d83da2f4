// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/parsec-cloud/go-parsec/lib/ref"
	"github.com/parsec-cloud/go-parsec/lib/secretbox"
	"github.com/parsec-cloud/go-parsec/lib/sqlitepool"
	"github.com/parsec-cloud/go-parsec/manifest"
)

// ErrManifestNotFound is returned by GetManifest when the entry has no
// local manifest.
var ErrManifestNotFound = errors.New("workspace: manifest not found")

// need_sync and base_version are stored alongside the sealed blob so
// that sync scheduling queries never have to decrypt anything.
const storageSchema = `
CREATE TABLE IF NOT EXISTS manifests (
	entry_id     BLOB    PRIMARY KEY,
	need_sync    INTEGER NOT NULL,
	base_version INTEGER NOT NULL,
	blob         BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_manifests_need_sync
	ON manifests(need_sync) WHERE need_sync = 1;
CREATE TABLE IF NOT EXISTS checkpoint (
	id    INTEGER PRIMARY KEY CHECK (id = 0),
	value INTEGER NOT NULL
);
`

// StorageConfig holds the parameters for opening a workspace manifest
// database.
type StorageConfig struct {
	// Path is the SQLite database file. ":memory:" is supported for
	// tests.
	Path string

	// PoolSize is the connection pool size. Defaults to 4.
	PoolSize int

	// Key seals manifests at rest. Use the device's local key.
	Key secretbox.Key

	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// Storage is the local manifest database of one workspace. Safe for
// concurrent use.
type Storage struct {
	pool   *sqlitepool.Pool
	key    secretbox.Key
	logger *slog.Logger
}

// OpenStorage opens (creating if needed) the manifest database.
func OpenStorage(cfg StorageConfig) (*Storage, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("workspace: Logger is required")
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, storageSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}

	return &Storage{pool: pool, key: cfg.Key, logger: cfg.Logger}, nil
}

// Close closes the underlying connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}

// GetManifest loads and unseals one entry's local manifest.
func (s *Storage) GetManifest(ctx context.Context, entry ref.EntryID) (manifest.LocalManifest, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	defer s.pool.Put(conn)

	var blob []byte
	err = sqlitex.Execute(conn,
		"SELECT blob FROM manifests WHERE entry_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{entry.Bytes()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				blob = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, blob)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("workspace: loading manifest %s: %w", entry, err)
	}
	if blob == nil {
		return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, entry)
	}
	return manifest.OpenLocal(s.key, blob)
}

// SetManifest seals and stores one entry's local manifest, replacing
// any previous version.
func (s *Storage) SetManifest(ctx context.Context, entry ref.EntryID, m manifest.LocalManifest) error {
	blob, err := manifest.SealLocal(s.key, m)
	if err != nil {
		return err
	}
	needSync, baseVersion := manifestSyncColumns(m)

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO manifests (entry_id, need_sync, base_version, blob)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(entry_id) DO UPDATE SET
			need_sync = excluded.need_sync,
			base_version = excluded.base_version,
			blob = excluded.blob`,
		&sqlitex.ExecOptions{Args: []any{entry.Bytes(), boolInt(needSync), int64(baseVersion), blob}})
	if err != nil {
		return fmt.Errorf("workspace: storing manifest %s: %w", entry, err)
	}
	return nil
}

// ListNeedSync returns every entry whose local manifest has pending
// changes, in unspecified order.
func (s *Storage) ListNeedSync(ctx context.Context) ([]ref.EntryID, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	defer s.pool.Put(conn)

	var entries []ref.EntryID
	err = sqlitex.Execute(conn,
		"SELECT entry_id FROM manifests WHERE need_sync = 1",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				raw := make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, raw)
				entry, err := ref.EntryIDFromBytes(raw)
				if err != nil {
					return err
				}
				entries = append(entries, entry)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("workspace: listing pending entries: %w", err)
	}
	return entries, nil
}

// Checkpoint returns the realm's last processed vlob checkpoint, zero
// when none was ever stored.
func (s *Storage) Checkpoint(ctx context.Context) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("workspace: %w", err)
	}
	defer s.pool.Put(conn)

	var value int64
	err = sqlitex.Execute(conn,
		"SELECT value FROM checkpoint WHERE id = 0",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("workspace: loading checkpoint: %w", err)
	}
	return value, nil
}

// SetCheckpoint stores the realm's vlob checkpoint.
func (s *Storage) SetCheckpoint(ctx context.Context, value int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO checkpoint (id, value) VALUES (0, ?)
		 ON CONFLICT(id) DO UPDATE SET value = excluded.value`,
		&sqlitex.ExecOptions{Args: []any{value}})
	if err != nil {
		return fmt.Errorf("workspace: storing checkpoint: %w", err)
	}
	return nil
}

// manifestSyncColumns extracts the scheduling columns from a local
// manifest.
func manifestSyncColumns(m manifest.LocalManifest) (needSync bool, baseVersion uint32) {
	switch m := m.(type) {
	case *manifest.LocalWorkspaceManifest:
		return m.NeedSync, m.Base.Version
	case *manifest.LocalFolderManifest:
		return m.NeedSync, m.Base.Version
	case *manifest.LocalFileManifest:
		return m.NeedSync, m.Base.Version
	}
	return false, 0
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
