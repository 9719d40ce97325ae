package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Repositories run against either, so the CRUD layer can execute a record
// write and its queue append inside one transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store owns the local SQLite database
type Store struct {
	db *sql.DB
}

// Open creates and initializes the local database
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	// WAL keeps reads open while a sync pass writes
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle for repositories
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic. This is the atomic unit behind the at-least-once queueing
// guarantee: a record write and its queue entry commit together or not at all.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	return tx.Commit()
}

func createTables(db *sql.DB) error {
	schema := `
	-- Flight records
	CREATE TABLE IF NOT EXISTS flights (
		id TEXT PRIMARY KEY,
		remote_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		sync_status TEXT NOT NULL DEFAULT 'pending',
		payload TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_flights_remote_id ON flights(remote_id);
	CREATE INDEX IF NOT EXISTS idx_flights_updated_at ON flights(updated_at);

	-- Aircraft records
	CREATE TABLE IF NOT EXISTS aircraft (
		id TEXT PRIMARY KEY,
		remote_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		sync_status TEXT NOT NULL DEFAULT 'pending',
		payload TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_aircraft_remote_id ON aircraft(remote_id);
	CREATE INDEX IF NOT EXISTS idx_aircraft_updated_at ON aircraft(updated_at);

	-- Personnel records
	CREATE TABLE IF NOT EXISTS personnel (
		id TEXT PRIMARY KEY,
		remote_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		sync_status TEXT NOT NULL DEFAULT 'pending',
		payload TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_personnel_remote_id ON personnel(remote_id);
	CREATE INDEX IF NOT EXISTS idx_personnel_updated_at ON personnel(updated_at);

	-- Pending mutations awaiting transmission to the remote authority
	CREATE TABLE IF NOT EXISTS sync_queue (
		id TEXT PRIMARY KEY,
		op TEXT NOT NULL,
		collection TEXT NOT NULL,
		record_id TEXT NOT NULL,
		data TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending'
	);

	CREATE INDEX IF NOT EXISTS idx_sync_queue_collection ON sync_queue(collection, timestamp);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_record_id ON sync_queue(record_id);

	-- Incremental pull checkpoints, one row per collection
	CREATE TABLE IF NOT EXISTS sync_meta (
		collection TEXT PRIMARY KEY,
		last_sync_at INTEGER NOT NULL DEFAULT 0
	);
	`

	_, err := db.Exec(schema)
	return err
}
