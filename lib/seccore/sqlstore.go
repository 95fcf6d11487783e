// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seccore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/seclink/lib/secproto"
	"github.com/bureau-foundation/seclink/lib/sqlitepool"
)

const keyStoreSchema = `
CREATE TABLE IF NOT EXISTS bundles (
	bundle TEXT PRIMARY KEY
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS entries (
	bundle TEXT NOT NULL,
	key    TEXT NOT NULL,
	value  BLOB NOT NULL,
	PRIMARY KEY (bundle, key)
) WITHOUT ROWID;
`

// SQLStoreConfig configures OpenSQLStore.
type SQLStoreConfig struct {
	// Path is the database file.
	Path string

	// Sealer seals values at rest. Nil stores them in the clear. The
	// store takes ownership.
	Sealer *Sealer

	// PoolSize is the connection count. Zero uses the pool default.
	PoolSize int

	Logger *slog.Logger
}

// SQLStore is a KeyStore persisted in SQLite. Writes are durable
// (synchronous=FULL) and deleted pages are overwritten.
type SQLStore struct {
	pool   *sqlitepool.Pool
	sealer *Sealer
}

var _ KeyStore = (*SQLStore)(nil)

// OpenSQLStore opens or creates the key store database.
func OpenSQLStore(ctx context.Context, cfg SQLStoreConfig) (*SQLStore, error) {
	pool, err := sqlitepool.Open(ctx, sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Durable:  true,
		Schema:   keyStoreSchema,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening key store: %w", err)
	}
	return &SQLStore{pool: pool, sealer: cfg.Sealer}, nil
}

func (s *SQLStore) ReadKey(ctx context.Context, bundle, key string) ([]byte, error) {
	var (
		bundleExists bool
		stored       []byte
		found        bool
	)
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		var err error
		if bundleExists, err = hasBundle(conn, bundle); err != nil || !bundleExists {
			return err
		}
		return sqlitex.Execute(conn, `SELECT value FROM entries WHERE bundle = ? AND key = ?`,
			&sqlitex.ExecOptions{
				Args: []any{bundle, key},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					stored = make([]byte, stmt.ColumnLen(0))
					stmt.ColumnBytes(0, stored)
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("key store: reading %s/%s: %w", bundle, key, err)
	}
	if !bundleExists {
		return nil, secproto.Fail(secproto.OpReadKey, secproto.StatusBundleNotFound, "bundle %q", bundle)
	}
	if !found {
		return nil, secproto.Fail(secproto.OpReadKey, secproto.StatusKeyNotFound, "key %q in bundle %q", key, bundle)
	}
	return openValue(s.sealer, bundle, key, stored)
}

func (s *SQLStore) WriteKey(ctx context.Context, bundle, key string, value []byte) error {
	stored, err := sealValue(s.sealer, bundle, key, value)
	if err != nil {
		return err
	}
	err = s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, `INSERT OR IGNORE INTO bundles (bundle) VALUES (?)`,
			&sqlitex.ExecOptions{Args: []any{bundle}}); err != nil {
			return err
		}
		return sqlitex.Execute(conn,
			`INSERT INTO entries (bundle, key, value) VALUES (?, ?, ?)
			 ON CONFLICT (bundle, key) DO UPDATE SET value = excluded.value`,
			&sqlitex.ExecOptions{Args: []any{bundle, key, stored}})
	})
	if err != nil {
		return fmt.Errorf("key store: writing %s/%s: %w", bundle, key, err)
	}
	return nil
}

func (s *SQLStore) DeleteKey(ctx context.Context, bundle, key string) error {
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		exists, err := hasBundle(conn, bundle)
		if err != nil {
			return err
		}
		if !exists {
			return secproto.Fail(secproto.OpDeleteKey, secproto.StatusBundleNotFound, "bundle %q", bundle)
		}
		return sqlitex.Execute(conn, `DELETE FROM entries WHERE bundle = ? AND key = ?`,
			&sqlitex.ExecOptions{Args: []any{bundle, key}})
	})
	return wrapStoreError(err, "deleting %s/%s", bundle, key)
}

func (s *SQLStore) DeleteBundle(ctx context.Context, bundle string) error {
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, `DELETE FROM bundles WHERE bundle = ?`,
			&sqlitex.ExecOptions{Args: []any{bundle}}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return secproto.Fail(secproto.OpDeleteBundle, secproto.StatusBundleNotFound, "bundle %q", bundle)
		}
		return sqlitex.Execute(conn, `DELETE FROM entries WHERE bundle = ?`,
			&sqlitex.ExecOptions{Args: []any{bundle}})
	})
	return wrapStoreError(err, "deleting bundle %s", bundle)
}

// Close closes the database and zeroes the sealer's root key.
func (s *SQLStore) Close() error {
	err := s.pool.Close()
	if s.sealer != nil {
		err = errors.Join(err, s.sealer.Close())
	}
	return err
}

func hasBundle(conn *sqlite.Conn, bundle string) (bool, error) {
	exists := false
	err := sqlitex.Execute(conn, `SELECT 1 FROM bundles WHERE bundle = ?`, &sqlitex.ExecOptions{
		Args: []any{bundle},
		ResultFunc: func(*sqlite.Stmt) error {
			exists = true
			return nil
		},
	})
	return exists, err
}

// wrapStoreError passes backend statuses through unwrapped so they stay
// data, and adds context to database failures.
func wrapStoreError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var backend *secproto.BackendError
	if errors.As(err, &backend) {
		return backend
	}
	return fmt.Errorf("key store: %s: %w", fmt.Sprintf(format, args...), err)
}
