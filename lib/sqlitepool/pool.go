// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Synchronous levels accepted by Config.Synchronous.
const (
	SynchronousFull   = "FULL"
	SynchronousNormal = "NORMAL"
)

// Config holds the parameters for opening a pool. Path is required.
type Config struct {
	// Path is the database file. The parent directory must exist.
	Path string

	// PoolSize is the number of connections. Defaults to 4. One
	// connection writes at a time regardless; the rest serve readers.
	PoolSize int

	// Synchronous is the synchronous pragma level. Defaults to FULL:
	// a committed transaction survives power loss, which is what
	// "durable once append returns" requires.
	Synchronous string

	// Logger receives open/close messages. Nil discards them.
	Logger *slog.Logger

	// OnConnect runs once per connection after the standard pragmas.
	OnConnect func(conn *sqlite.Conn) error
}

// Pool is a fixed-size pool of SQLite connections with the standard
// pragmas applied. Safe for concurrent use; individual connections are
// not.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open creates the pool. The database file is created if missing.
// Connections are prepared lazily on first Take.
func Open(cfg Config) (*Pool, error) {
	synchronous, err := checkConfig(cfg)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, synchronous, cfg.OnConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}

	logger.Info("sqlite pool opened",
		"path", cfg.Path,
		"pool_size", poolSize,
		"synchronous", synchronous,
	)

	return &Pool{inner: inner, logger: logger, path: cfg.Path}, nil
}

// OpenConn opens one connection outside any pool, prepared exactly
// like pooled connections. PoolSize is ignored. The caller owns the
// connection and must Close it.
func OpenConn(cfg Config) (*sqlite.Conn, error) {
	synchronous, err := checkConfig(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := sqlite.OpenConn(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}
	if err := prepareConnection(conn, synchronous, cfg.OnConnect); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// checkConfig validates cfg and returns the synchronous level to use.
func checkConfig(cfg Config) (string, error) {
	if cfg.Path == "" {
		return "", fmt.Errorf("sqlitepool: Path is required")
	}
	switch cfg.Synchronous {
	case "":
		return SynchronousFull, nil
	case SynchronousFull, SynchronousNormal:
		return cfg.Synchronous, nil
	default:
		return "", fmt.Errorf("sqlitepool: unsupported synchronous level %q", cfg.Synchronous)
	}
}

// Take borrows a connection, blocking until one is free or ctx is
// done. Every Take must be paired with a Put:
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Nil is a no-op.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Path returns the database file path.
func (p *Pool) Path() string { return p.path }

// Close closes every connection, waiting for borrowed ones to return.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlite pool close error", "path", p.path, "error", err)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Info("sqlite pool closed", "path", p.path)
	return nil
}

func prepareConnection(conn *sqlite.Conn, synchronous string, onConnect func(*sqlite.Conn) error) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=" + synchronous,
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-8192",
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
