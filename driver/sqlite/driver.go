// Package sqlite opens the on-disk database/sql handle used by every other
// package in this module. It owns connection setup (WAL mode, busy timeout,
// foreign keys) and a small Querier abstraction that lets callers run a
// statement against either the pool or an in-flight transaction without
// caring which.
//
// The underlying driver is github.com/ncruces/go-sqlite3, a pure-Go (WASM,
// via wazero) SQLite implementation, so this module never needs cgo.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Querier is satisfied by both *sql.DB and *sql.Tx. Store implementations
// accept a Querier so the same query code runs whether or not the caller
// has an open transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps a *sql.DB configured for single-writer, many-reader WAL access.
type DB struct {
	*sql.DB
}

// Options controls how Open configures the connection.
type Options struct {
	// BusyTimeoutMS is how long a writer waits for the database lock before
	// giving up. Default 5000ms.
	BusyTimeoutMS int
}

// Open opens (creating if necessary) the SQLite database at path and applies
// the pragmas this module relies on: WAL journaling so readers never block
// on the single writer, a busy timeout so concurrent writers back off
// instead of failing immediately, and foreign key enforcement.
func Open(path string, opts Options) (*DB, error) {
	if opts.BusyTimeoutMS <= 0 {
		opts.BusyTimeoutMS = 5000
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", path, opts.BusyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite allows only one writer at a time regardless of pool size; a
	// single connection keeps WithTx/BEGIN IMMEDIATE semantics simple and
	// avoids SQLITE_BUSY from concurrent pooled connections racing a writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL journal mode: %w", err)
	}

	return &DB{DB: db}, nil
}

type txKey struct{}

// WithTx runs fn inside a transaction. If ctx already carries one (nested
// call), fn reuses it and does not commit/rollback — only the outermost
// WithTx call owns the transaction lifecycle.
func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx, tx)
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// WithImmediateTx is the queue's claim transaction: spec.md's documented
// fallback for dialects without UPDATE ... RETURNING ... LIMIT — select
// eligible ids, then update them by id, inside one transaction whose
// isolation prevents two workers from claiming the same row.
//
// database/sql's pool is capped at one open connection (see Open), so every
// transaction already runs against the same single connection one at a
// time: a plain BeginTx here gives the same exclusivity a real BEGIN
// IMMEDIATE would, without depending on driver-specific transaction options.
func (d *DB) WithImmediateTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	return d.WithTx(ctx, fn)
}

// QuerierFromContext returns the transaction injected by WithTx/WithImmediateTx,
// or fallback if the context carries none.
func QuerierFromContext(ctx context.Context, fallback Querier) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return fallback
}
