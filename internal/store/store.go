// Package store persists keys, capsules, claims and audit facts in SQLite.
//
// A Store is bound either to the database handle or to a single transaction.
// WithTx hands the callback a transaction-bound Store and commits or rolls back
// on every exit path, so multi-row writes are all-or-nothing.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a row looked up by uuid does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNotUpdated is returned when a conditional update matched no row.
	ErrNotUpdated = errors.New("record not updated")
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
	q  querier
}

// Open opens (creating if needed) the SQLite database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory for '%s': %w", path, err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database at '%s': %w", path, err)
	}
	// SQLite allows a single writer; one connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database connection test failed for '%s': %w", path, err)
	}
	s, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection and applies the schema.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create database schema: %w", err)
	}
	return &Store{db: db, q: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle, mostly for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside one transaction. The transaction is committed when fn
// returns nil and rolled back otherwise, including when fn panics.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) (err error) {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("failed to roll back transaction: %w", rbErr))
			}
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cErr)
		}
	}()
	return fn(&Store{db: s.db, q: tx})
}

const schema = `
	CREATE TABLE IF NOT EXISTS secret_keys (
		uuid TEXT PRIMARY KEY,
		key_material TEXT NOT NULL,
		iv TEXT NOT NULL,
		wrapped_by TEXT NOT NULL DEFAULT '',
		deprecated BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_secret_keys_active ON secret_keys(deprecated);

	CREATE TABLE IF NOT EXISTS capsule_additional_props (
		uuid TEXT PRIMARY KEY,
		type TEXT NOT NULL DEFAULT '',
		owner TEXT NOT NULL,
		producer TEXT NOT NULL DEFAULT '',
		producer_time DATETIME,
		level INTEGER NOT NULL DEFAULT 1,
		sex INTEGER,
		age INTEGER,
		area TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_additional_props_owner ON capsule_additional_props(owner);

	CREATE TABLE IF NOT EXISTS capsules (
		uuid TEXT PRIMARY KEY,
		raw_ciphertext TEXT NOT NULL,
		summary_ciphertext TEXT NOT NULL,
		gene_ciphertext TEXT NOT NULL,
		signature TEXT NOT NULL,
		key_uuid TEXT NOT NULL REFERENCES secret_keys(uuid),
		additional_props_uuid TEXT NOT NULL REFERENCES capsule_additional_props(uuid),
		source_object TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS capsule_claims (
		uuid TEXT PRIMARY KEY,
		authorizer TEXT NOT NULL,
		authorizer_signature TEXT NOT NULL,
		receiver TEXT NOT NULL,
		capsules TEXT NOT NULL,
		privacy_level INTEGER NOT NULL DEFAULT 0,
		scope TEXT NOT NULL DEFAULT '{}',
		one_time_use BOOLEAN NOT NULL DEFAULT FALSE,
		expires_at DATETIME NOT NULL,
		deprecated BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_capsule_claims_receiver ON capsule_claims(receiver);

	CREATE TABLE IF NOT EXISTS audit_log (
		uuid TEXT PRIMARY KEY,
		capsule_uuid TEXT NOT NULL,
		claim_uuid TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_log_capsule ON audit_log(capsule_uuid);
`
