// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool is the SQLite connection pool behind seclink's
// persistent key store.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Every connection is
// initialized with the same pragmas:
//
//   - journal_mode=WAL: readers never block the writer.
//   - synchronous=FULL (Durable) or NORMAL: FULL survives power loss,
//     which matters when the database is the only copy of a secret.
//   - busy_timeout=5000: wait for the write lock instead of failing
//     with SQLITE_BUSY.
//   - secure_delete=ON: deleted rows are overwritten, not just
//     unlinked from the b-tree.
//   - temp_store=MEMORY: temporary tables never touch disk.
//
// [Config.Schema] is applied once, in an immediate transaction, when
// the pool opens. Callers use [Pool.Read] and [Pool.Write] for scoped
// access; Write runs its function inside an immediate transaction that
// commits on a nil return and rolls back otherwise.
package sqlitepool
