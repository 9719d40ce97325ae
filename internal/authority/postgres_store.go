package authority

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore is the multi-node RecordStore for shared deployments
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to Postgres and initializes the schema
func OpenPostgres(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS records (
		remote_id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		collection TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		payload TEXT NOT NULL,
		UNIQUE (collection, client_id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_collection_updated ON records(collection, updated_at);

	CREATE TABLE IF NOT EXISTS tombstones (
		collection TEXT NOT NULL,
		client_id TEXT NOT NULL,
		deleted_at BIGINT NOT NULL,
		PRIMARY KEY (collection, client_id)
	);

	CREATE INDEX IF NOT EXISTS idx_tombstones_deleted_at ON tombstones(collection, deleted_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgresStore{db: db}, nil
}

// Upsert applies a push keyed on client id, assigning the remote id once
func (s *PostgresStore) Upsert(ctx context.Context, collection string, rec *Record) (string, error) {
	var remoteID string
	var storedUpdatedAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT remote_id, updated_at FROM records WHERE collection = $1 AND client_id = $2",
		collection, rec.ClientID).Scan(&remoteID, &storedUpdatedAt)
	if err == sql.ErrNoRows {
		remoteID = uuid.New().String()
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO records (remote_id, client_id, collection, created_at, updated_at, payload)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (collection, client_id) DO NOTHING`,
			remoteID, rec.ClientID, collection, rec.CreatedAt, rec.UpdatedAt, string(rec.Payload))
		if err != nil {
			return "", err
		}
		// A concurrent push may have won the insert; read back the winner.
		if err := s.db.QueryRowContext(ctx,
			"SELECT remote_id FROM records WHERE collection = $1 AND client_id = $2",
			collection, rec.ClientID).Scan(&remoteID); err != nil {
			return "", err
		}
		_, err = s.db.ExecContext(ctx,
			"DELETE FROM tombstones WHERE collection = $1 AND client_id = $2",
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
		`UPDATE records SET created_at = $1, updated_at = $2, payload = $3
		WHERE collection = $4 AND client_id = $5`,
		rec.CreatedAt, rec.UpdatedAt, string(rec.Payload), collection, rec.ClientID)
	return remoteID, err
}

// Delete removes a record and records a tombstone
func (s *PostgresStore) Delete(ctx context.Context, collection, id string, deletedAt int64) error {
	var clientID string
	err := s.db.QueryRowContext(ctx,
		"SELECT client_id FROM records WHERE collection = $1 AND (client_id = $2 OR remote_id = $2)",
		collection, id).Scan(&clientID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE collection = $1 AND client_id = $2", collection, clientID); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tombstones (collection, client_id, deleted_at) VALUES ($1, $2, $3)
		ON CONFLICT (collection, client_id) DO UPDATE SET deleted_at = EXCLUDED.deleted_at`,
		collection, clientID, deletedAt)
	return err
}

// ChangedSince returns records updated strictly after since
func (s *PostgresStore) ChangedSince(ctx context.Context, collection string, since int64) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT remote_id, client_id, created_at, updated_at, payload FROM records
		WHERE collection = $1 AND updated_at > $2 ORDER BY updated_at ASC`,
		collection, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// DeletedSince returns client ids tombstoned strictly after since
func (s *PostgresStore) DeletedSince(ctx context.Context, collection string, since int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT client_id FROM tombstones WHERE collection = $1 AND deleted_at > $2",
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

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var _ RecordStore = (*PostgresStore)(nil)
