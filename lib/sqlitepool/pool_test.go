// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("expected error for empty Path")
	}
}

func TestTakePutAndQuery(t *testing.T) {
	pool, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		PoolSize: 2,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, `
				CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT);
			`, nil)
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	conn, err := pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}

	err = sqlitex.Execute(conn, "INSERT INTO kv (k, v) VALUES (?, ?)", &sqlitex.ExecOptions{
		Args: []any{"key", "value"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	pool.Put(conn)

	conn, err = pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take (second): %v", err)
	}
	defer pool.Put(conn)

	var got string
	err = sqlitex.Execute(conn, "SELECT v FROM kv WHERE k = ?", &sqlitex.ExecOptions{
		Args: []any{"key"},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			got = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got != "value" {
		t.Errorf("got %q, want %q", got, "value")
	}
}

func TestMemoryPathSharedAcrossConnections(t *testing.T) {
	// ":memory:" must give every connection in the pool the same
	// database, and two pools must not see each other's data.
	openMemory := func() *Pool {
		pool, err := Open(Config{
			Path:     ":memory:",
			PoolSize: 2,
			OnConnect: func(conn *sqlite.Conn) error {
				return sqlitex.ExecuteScript(conn, `
					CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT);
				`, nil)
			},
		})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { pool.Close() })
		return pool
	}
	first := openMemory()
	second := openMemory()

	ctx := context.Background()
	writer, err := first.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	err = sqlitex.Execute(writer, "INSERT INTO kv (k, v) VALUES (?, ?)", &sqlitex.ExecOptions{
		Args: []any{"key", "value"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	// The writer stays borrowed, forcing a second connection.
	reader, err := first.Take(ctx)
	if err != nil {
		t.Fatalf("Take (second connection): %v", err)
	}
	countRows := func(conn *sqlite.Conn) int {
		var rows int
		err := sqlitex.Execute(conn, "SELECT COUNT(*) FROM kv", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rows = stmt.ColumnInt(0)
				return nil
			},
		})
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		return rows
	}
	if got := countRows(reader); got != 1 {
		t.Errorf("second connection sees %d rows, want 1", got)
	}
	first.Put(reader)
	first.Put(writer)

	other, err := second.Take(ctx)
	if err != nil {
		t.Fatalf("Take (other pool): %v", err)
	}
	defer second.Put(other)
	if got := countRows(other); got != 0 {
		t.Errorf("other pool sees %d rows, want 0", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	pool, err := Open(Config{Path: filepath.Join(t.TempDir(), "twice.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestTakeAfterCloseFails(t *testing.T) {
	pool, err := Open(Config{Path: filepath.Join(t.TempDir(), "closed.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := pool.Take(context.Background()); err == nil {
		t.Fatal("expected Take to fail after Close")
	}
}
