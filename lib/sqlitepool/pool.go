// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Config holds the parameters for opening a SQLite connection pool.
// Path is required; all other fields have sensible defaults.
type Config struct {
	// Path is the filesystem path to the database file. The parent
	// directory must exist; the file is created if missing. Use
	// ":memory:" for an in-memory database (tests only): it is mapped
	// to a pool-private shared-cache URI so every connection in the
	// pool sees the same database.
	Path string

	// PoolSize is the number of connections. If zero or negative,
	// defaults to 4 — client databases are small and write-heavy, and
	// SQLite serializes writes regardless of pool size.
	PoolSize int

	// Logger receives operational messages (pool open/close). If nil,
	// a no-op logger is used.
	Logger *slog.Logger

	// OnConnect is called once per connection after standard pragmas
	// are applied. Use it for schema creation. If OnConnect returns
	// an error, the connection is discarded and the error is returned
	// from Take.
	OnConnect func(conn *sqlite.Conn) error
}

// Pool is a fixed-size pool of SQLite connections with standard
// pragmas. Pool is safe for concurrent use; individual connections
// are not.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string

	closeOnce sync.Once
	closeErr  error
}

// memorySerial distinguishes the in-memory databases of concurrently
// open pools within one process.
var memorySerial atomic.Int64

// Open creates a new connection pool. Connections are initialized
// lazily on first Take. The caller must Close the pool when done.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	path := cfg.Path
	if path == ":memory:" {
		// A plain ":memory:" gives every connection its own private
		// database, which breaks any pool. A named shared-cache URI
		// shares the database across this pool's connections while
		// keeping separate pools isolated.
		path = fmt.Sprintf("file:memdb%d?mode=memory&cache=shared", memorySerial.Add(1))
	}

	inner, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, cfg.OnConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}

	logger.Debug("sqlite pool opened", "path", cfg.Path, "pool_size", poolSize)

	return &Pool{inner: inner, logger: logger, path: cfg.Path}, nil
}

// Take borrows a connection from the pool. Blocks until a connection
// is available or ctx is cancelled. The caller MUST call Put when
// done, typically via defer.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Safe to call with nil.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close closes all connections. Blocks until borrowed connections are
// returned; after Close, Take returns an error. Safe to call more than
// once; later calls return the first call's result.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		if err := p.inner.Close(); err != nil {
			p.closeErr = fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
			return
		}
		p.logger.Debug("sqlite pool closed", "path", p.path)
	})
	return p.closeErr
}

// prepareConnection applies the standard pragmas and then the
// optional OnConnect callback. Runs once per connection, on first use.
func prepareConnection(conn *sqlite.Conn, onConnect func(*sqlite.Conn) error) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}
	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			return fmt.Errorf("sqlitepool: OnConnect: %w", err)
		}
	}
	return nil
}
