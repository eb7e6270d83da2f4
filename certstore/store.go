// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package certstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/parsec-cloud/go-parsec/certif"
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/sqlitepool"
)

// ErrCertificateNotFound is returned by getters when no stored
// certificate matches the query, regardless of any timestamp bound.
var ErrCertificateNotFound = errors.New("certstore: certificate not found")

// ErrCertificateFromTheFuture is returned when a matching certificate
// exists but only with a timestamp later than the query's bound. The
// caller's view is stale: it must poll for new certificates and retry.
var ErrCertificateFromTheFuture = errors.New("certstore: certificate is newer than the queried bound")

// ErrOutOfOrderTimestamp is returned by AddNextCertificate when the
// new certificate's timestamp is not strictly greater than the topic's
// current watermark. Indicates a server ordering violation.
var ErrOutOfOrderTimestamp = errors.New("certstore: certificate timestamp is not strictly increasing within its topic")

const schema = `
CREATE TABLE IF NOT EXISTS certificates (
	topic     TEXT    NOT NULL,
	idx       INTEGER NOT NULL,
	timestamp INTEGER NOT NULL,
	kind      TEXT    NOT NULL,
	filter1   TEXT    NOT NULL DEFAULT '',
	filter2   TEXT    NOT NULL DEFAULT '',
	data      BLOB    NOT NULL,
	PRIMARY KEY (topic, idx)
);
CREATE INDEX IF NOT EXISTS idx_certificates_lookup
	ON certificates(kind, filter1, filter2, timestamp);
`

// Config holds the parameters for opening a certificate store.
type Config struct {
	// Path is the SQLite database file. ":memory:" is supported for
	// tests.
	Path string

	// PoolSize is the connection pool size. Defaults to 4.
	PoolSize int

	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// Store is the local certificate ledger. Safe for concurrent use; all
// access goes through ForRead / ForWrite guards.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger

	// mu is the guard lock. It also protects the cached watermarks
	// below: readers hold it shared, AddNextCertificate holds it
	// exclusively.
	mu             sync.RWMutex
	lastTimestamps certif.PerTopicLastTimestamps
	nextIndex      map[string]int64
}

// Open opens (creating if needed) the certificate database and loads
// the per-topic watermarks.
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("certstore: Logger is required")
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("certstore: %w", err)
	}

	store := &Store{
		pool:      pool,
		logger:    cfg.Logger,
		nextIndex: make(map[string]int64),
	}

	if err := store.loadWatermarks(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("certstore: loading watermarks: %w", err)
	}

	return store, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// loadWatermarks scans the highest index and timestamp of each topic
// so that adds resume where the previous run stopped.
func (s *Store) loadWatermarks() error {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn,
		"SELECT topic, MAX(idx), MAX(timestamp) FROM certificates GROUP BY topic",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				topic, err := certif.ParseTopic(stmt.ColumnText(0))
				if err != nil {
					return err
				}
				s.nextIndex[stmt.ColumnText(0)] = stmt.ColumnInt64(1) + 1
				s.lastTimestamps = s.lastTimestamps.WithTopic(topic, dtime.Time(stmt.ColumnInt64(2)))
				return nil
			},
		})
}

// ReadGuard is a consistent read view of the store. It holds the
// shared lock and one pooled connection until Release.
type ReadGuard struct {
	store    *Store
	conn     *sqlite.Conn
	unlock   func()
	released bool
}

// ForRead acquires the shared lock and a connection. The caller MUST
// call Release, typically via defer.
func (s *Store) ForRead(ctx context.Context) (*ReadGuard, error) {
	s.mu.RLock()
	conn, err := s.pool.Take(ctx)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	return &ReadGuard{store: s, conn: conn, unlock: s.mu.RUnlock}, nil
}

// Release returns the connection and drops the lock. Idempotent.
func (g *ReadGuard) Release() {
	if g.released {
		return
	}
	g.released = true
	g.store.pool.Put(g.conn)
	g.unlock()
}

// LastTimestamps returns the per-topic watermarks of the stored
// ledger.
func (g *ReadGuard) LastTimestamps() certif.PerTopicLastTimestamps {
	return g.store.lastTimestamps
}

// LastTimestamps returns the per-topic watermarks without holding a
// guard. The snapshot may be stale by the time the caller acts on it.
func (s *Store) LastTimestamps() certif.PerTopicLastTimestamps {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTimestamps
}

// WriteGuard extends ReadGuard with append and reset operations. It
// holds the exclusive lock until Release.
type WriteGuard struct {
	ReadGuard
}

// ForWrite acquires the exclusive lock and a connection. The caller
// MUST call Release, typically via defer.
func (s *Store) ForWrite(ctx context.Context) (*WriteGuard, error) {
	s.mu.Lock()
	conn, err := s.pool.Take(ctx)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	return &WriteGuard{ReadGuard{store: s, conn: conn, unlock: s.mu.Unlock}}, nil
}
