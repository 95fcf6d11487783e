// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/seclink/lib/sqlitepool"
)

const testSchema = `CREATE TABLE IF NOT EXISTS entries (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);`

func openTestPool(t *testing.T, durable bool) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(context.Background(), sqlitepool.Config{
		Path:    filepath.Join(t.TempDir(), "test.db"),
		Durable: durable,
		Schema:  testSchema,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func pragma(t *testing.T, pool *sqlitepool.Pool, name string) string {
	t.Helper()
	var value string
	err := pool.Read(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "PRAGMA "+name, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = stmt.ColumnText(0)
				return nil
			},
		})
	})
	if err != nil {
		t.Fatalf("PRAGMA %s: %v", name, err)
	}
	return value
}

func TestPragmas(t *testing.T) {
	pool := openTestPool(t, true)
	if mode := pragma(t, pool, "journal_mode"); mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	if synchronous := pragma(t, pool, "synchronous"); synchronous != "2" {
		t.Errorf("synchronous = %s, want 2 (FULL)", synchronous)
	}
	if secureDelete := pragma(t, pool, "secure_delete"); secureDelete != "1" {
		t.Errorf("secure_delete = %s, want 1", secureDelete)
	}

	normal := openTestPool(t, false)
	if synchronous := pragma(t, normal, "synchronous"); synchronous != "1" {
		t.Errorf("synchronous = %s, want 1 (NORMAL)", synchronous)
	}
}

func count(t *testing.T, pool *sqlitepool.Pool) int {
	t.Helper()
	var rows int
	err := pool.Read(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT COUNT(*) FROM entries", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rows = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return rows
}

func TestWriteCommitsOrRollsBack(t *testing.T) {
	pool := openTestPool(t, false)
	ctx := context.Background()

	err := pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT INTO entries (name, value) VALUES (?, ?)",
			&sqlitex.ExecOptions{Args: []any{"kept", 1}})
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	failure := errors.New("abort")
	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "INSERT INTO entries (name, value) VALUES (?, ?)",
			&sqlitex.ExecOptions{Args: []any{"discarded", 2}}); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("Write = %v, want the function's error", err)
	}
	if rows := count(t, pool); rows != 1 {
		t.Errorf("rows = %d, want 1 after rollback", rows)
	}
}

func TestConcurrentWriters(t *testing.T) {
	pool := openTestPool(t, false)
	var writers sync.WaitGroup
	errs := make(chan error, 8)
	for writer := range 8 {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for index := range 25 {
				err := pool.Write(context.Background(), func(conn *sqlite.Conn) error {
					return sqlitex.Execute(conn, "INSERT INTO entries (name, value) VALUES (?, ?)",
						&sqlitex.ExecOptions{Args: []any{fmt.Sprintf("w%d-%d", writer, index), index}})
				})
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	writers.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Write: %v", err)
	}
	if rows := count(t, pool); rows != 200 {
		t.Errorf("rows = %d, want 200", rows)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := sqlitepool.Open(context.Background(), sqlitepool.Config{}); err == nil {
		t.Fatal("Open with empty Path succeeded")
	}
}
