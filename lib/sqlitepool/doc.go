// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool wraps zombiezen.com/go/sqlite's connection pool
// with the pragmas the gateway store relies on.
//
// Every connection runs in WAL mode, so readers never block the
// writer, with a five second busy timeout. Synchronous defaults to
// FULL: once a transaction commits, the row is on disk.
//
// The package is deliberately thin. Callers write SQL, run it with
// sqlitex.Execute, and manage transactions with
// sqlitex.ImmediateTransaction.
package sqlitepool
