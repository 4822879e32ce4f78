// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/sdv-zonal/canbridge/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS frames (
	seq        INTEGER PRIMARY KEY,
	timestamp  INTEGER NOT NULL,
	can_id     INTEGER NOT NULL,
	can_id_hex TEXT    NOT NULL,
	extended   INTEGER NOT NULL,
	dlc        INTEGER NOT NULL,
	payload    BLOB    NOT NULL,
	message    TEXT    NOT NULL DEFAULT '',
	source     TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS frames_by_time ON frames (timestamp, seq);
CREATE INDEX IF NOT EXISTS frames_by_id   ON frames (can_id, timestamp);

CREATE TABLE IF NOT EXISTS signals (
	seq          INTEGER PRIMARY KEY,
	frame_seq    INTEGER NOT NULL REFERENCES frames (seq),
	timestamp    INTEGER NOT NULL,
	can_id       INTEGER NOT NULL,
	message      TEXT    NOT NULL,
	name         TEXT    NOT NULL,
	raw          INTEGER NOT NULL,
	physical     REAL    NOT NULL,
	unit         TEXT    NOT NULL DEFAULT '',
	minimum      REAL,
	maximum      REAL,
	out_of_range INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS signals_by_time  ON signals (timestamp, seq);
CREATE INDEX IF NOT EXISTS signals_by_name  ON signals (name, timestamp);
CREATE INDEX IF NOT EXISTS signals_by_frame ON signals (frame_seq);

CREATE TABLE IF NOT EXISTS samples (
	seq       INTEGER PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	path      TEXT    NOT NULL,
	data_type TEXT    NOT NULL,
	value,
	unit      TEXT    NOT NULL DEFAULT '',
	can_id    INTEGER NOT NULL,
	signal    TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS samples_by_time ON samples (timestamp, seq);
CREATE INDEX IF NOT EXISTS samples_by_path ON samples (path, timestamp);
`

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the database file. Created if missing.
	Path string

	// PoolSize is the number of SQLite read connections. Writes use a
	// separate connection of their own. Defaults to 4.
	PoolSize int

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger
}

// Store is the append-only record of raw frames, their decoded
// signals, and mapped samples.
//
// Appends are serialized by a single writer lock and each commits its
// own IMMEDIATE transaction on the store's dedicated write connection;
// when an append returns nil the record is on disk. Queries run on a
// separate pool of read connections and never wait for the writer
// lock. WAL readers do not block the writer, so an iterator the caller
// is slow to drain never stalls ingest.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger

	// writeMu serializes every write transaction and guards writer
	// and closed.
	writeMu sync.Mutex
	writer  *sqlite.Conn
	closed  bool
}

// Open creates or opens the store and ensures the tables exist.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	writer, err := sqlitepool.OpenConn(sqlitepool.Config{Path: cfg.Path})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	if err := createSchema(writer); err != nil {
		writer.Close()
		return nil, err
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("store: %w", err)
	}

	return &Store{pool: pool, logger: logger, writer: writer}, nil
}

func createSchema(conn *sqlite.Conn) error {
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("store: creating schema: %w", err)
	}

	// Stores created before frames carried their producer lack the
	// source column.
	hasSource := false
	err := sqlitex.Execute(conn, "SELECT name FROM pragma_table_info('frames')", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if stmt.ColumnText(0) == "source" {
				hasSource = true
			}
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("store: reading frames columns: %w", err)
	}
	if !hasSource {
		if err := sqlitex.ExecuteTransient(conn, "ALTER TABLE frames ADD COLUMN source TEXT NOT NULL DEFAULT ''", nil); err != nil {
			return fmt.Errorf("store: adding frames.source: %w", err)
		}
	}
	return nil
}

// Close waits for in-flight appends, then closes every connection.
// Iterators still being consumed hold a read connection and delay
// Close.
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	writerErr := s.writer.Close()
	if writerErr != nil {
		writerErr = fmt.Errorf("store: closing writer: %w", writerErr)
	}
	return errors.Join(writerErr, s.pool.Close())
}

// Path returns the database file path.
func (s *Store) Path() string { return s.pool.Path() }

// Flush checkpoints the write-ahead log into the main database file.
// Appends are already durable; Flush makes the main file
// self-contained so it can be copied while no writer is running. Open
// readers can keep part of the log from being checkpointed; that is
// not an error.
func (s *Store) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store: flush: %w", err)
	}

	if err := sqlitex.ExecuteTransient(s.writer, "PRAGMA wal_checkpoint(TRUNCATE)", nil); err != nil {
		return fmt.Errorf("store: flush: %w", err)
	}
	return nil
}

// Counts holds table sizes.
type Counts struct {
	Frames  int64 `json:"frames"`
	Signals int64 `json:"signals"`
	Samples int64 `json:"samples"`
}

// Counts returns the number of stored frames, signals and samples.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("store: counts: %w", err)
	}
	defer s.pool.Put(conn)

	var counts Counts
	if counts.Frames, err = countRows(conn, "frames"); err != nil {
		return Counts{}, err
	}
	if counts.Signals, err = countRows(conn, "signals"); err != nil {
		return Counts{}, err
	}
	if counts.Samples, err = countRows(conn, "samples"); err != nil {
		return Counts{}, err
	}
	return counts, nil
}

func countRows(conn *sqlite.Conn, table string) (int64, error) {
	var count int64
	err := sqlitex.Execute(conn, "SELECT count(*) FROM "+table, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("store: counting %s: %w", table, err)
	}
	return count, nil
}
