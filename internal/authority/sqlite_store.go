package authority

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the single-node RecordStore
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates and initializes a SQLite-backed record store
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS records (
		remote_id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		collection TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		payload TEXT NOT NULL,
		UNIQUE (collection, client_id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_collection_updated ON records(collection, updated_at);

	CREATE TABLE IF NOT EXISTS tombstones (
		collection TEXT NOT NULL,
		client_id TEXT NOT NULL,
		deleted_at INTEGER NOT NULL,
		PRIMARY KEY (collection, client_id)
	);

	CREATE INDEX IF NOT EXISTS idx_tombstones_deleted_at ON tombstones(collection, deleted_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Upsert applies a push keyed on client id. The remote id is assigned once
// on first sight and survives retries and later updates.
func (s *SQLiteStore) Upsert(ctx context.Context, collection string, rec *Record) (string, error) {
	var remoteID string
	var storedUpdatedAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT remote_id, updated_at FROM records WHERE collection = ? AND client_id = ?",
		collection, rec.ClientID).Scan(&remoteID, &storedUpdatedAt)
	if err == sql.ErrNoRows {
		remoteID = uuid.New().String()
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO records (remote_id, client_id, collection, created_at, updated_at, payload)
			VALUES (?, ?, ?, ?, ?, ?)`,
			remoteID, rec.ClientID, collection, rec.CreatedAt, rec.UpdatedAt, string(rec.Payload))
		if err != nil {
			return "", err
		}
		// A push resurrects a record; clear any tombstone left from a
		// previous delete.
		_, err = s.db.ExecContext(ctx,
			"DELETE FROM tombstones WHERE collection = ? AND client_id = ?",
			collection, rec.ClientID)
		return remoteID, err
	}
	if err != nil {
		return "", err
	}

	if rec.UpdatedAt < storedUpdatedAt {
		return remoteID, nil
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE records SET created_at = ?, updated_at = ?, payload = ?
		WHERE collection = ? AND client_id = ?`,
		rec.CreatedAt, rec.UpdatedAt, string(rec.Payload), collection, rec.ClientID)
	return remoteID, err
}

// Delete removes a record and records a tombstone so pulls propagate the
// deletion. The id may be either side's identifier.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string, deletedAt int64) error {
	var clientID string
	err := s.db.QueryRowContext(ctx,
		"SELECT client_id FROM records WHERE collection = ? AND (client_id = ? OR remote_id = ?)",
		collection, id, id).Scan(&clientID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE collection = ? AND client_id = ?", collection, clientID); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tombstones (collection, client_id, deleted_at) VALUES (?, ?, ?)
		ON CONFLICT (collection, client_id) DO UPDATE SET deleted_at = excluded.deleted_at`,
		collection, clientID, deletedAt)
	return err
}

// ChangedSince returns records updated strictly after since
func (s *SQLiteStore) ChangedSince(ctx context.Context, collection string, since int64) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT remote_id, client_id, created_at, updated_at, payload FROM records
		WHERE collection = ? AND updated_at > ? ORDER BY updated_at ASC`,
		collection, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// DeletedSince returns client ids tombstoned strictly after since
func (s *SQLiteStore) DeletedSince(ctx context.Context, collection string, since int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT client_id FROM tombstones WHERE collection = ? AND deleted_at > ?",
		collection, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var rec Record
		var payload string
		if err := rows.Scan(&rec.RemoteID, &rec.ClientID, &rec.CreatedAt, &rec.UpdatedAt, &payload); err != nil {
			return nil, err
		}
		rec.Payload = []byte(payload)
		records = append(records, rec)
	}
	return records, rows.Err()
}

var _ RecordStore = (*SQLiteStore)(nil)
