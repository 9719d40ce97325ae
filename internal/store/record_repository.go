package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/chinyang09/pilotlog/internal/models"
)

// RecordRepository handles persistence for one syncable collection.
// It runs against a Querier so callers can scope it to a transaction.
type RecordRepository struct {
	q     Querier
	table string
}

// NewRecordRepository creates a RecordRepository for a registered collection.
// The collection name is interpolated into SQL, so it must validate.
func NewRecordRepository(q Querier, collection string) (*RecordRepository, error) {
	if err := models.ValidateCollection(collection); err != nil {
		return nil, err
	}
	return &RecordRepository{q: q, table: collection}, nil
}

// WithQuerier returns a copy of the repository bound to q (usually a *sql.Tx)
func (r *RecordRepository) WithQuerier(q Querier) *RecordRepository {
	return &RecordRepository{q: q, table: r.table}
}

// Get retrieves a record by primary key. Returns (nil, nil) when absent.
func (r *RecordRepository) Get(ctx context.Context, id string) (*models.Record, error) {
	query := fmt.Sprintf(`SELECT id, remote_id, created_at, updated_at, sync_status, payload
		FROM %s WHERE id = ?`, r.table)
	return r.scanOne(r.q.QueryRowContext(ctx, query, id))
}

// GetByRemoteID retrieves a record by its remote authority id. (nil, nil) when absent.
func (r *RecordRepository) GetByRemoteID(ctx context.Context, remoteID string) (*models.Record, error) {
	query := fmt.Sprintf(`SELECT id, remote_id, created_at, updated_at, sync_status, payload
		FROM %s WHERE remote_id = ?`, r.table)
	return r.scanOne(r.q.QueryRowContext(ctx, query, remoteID))
}

// FindByID resolves a record through the full fallback chain: primary-key
// lookup, then remote_id index, then a table scan with normalized string
// comparison. The scan guards against id-representation drift between the
// local and remote stores (e.g. a numeric remote id arriving where a string
// was stored).
func (r *RecordRepository) FindByID(ctx context.Context, id string) (*models.Record, error) {
	rec, err := r.Get(ctx, id)
	if err != nil || rec != nil {
		return rec, err
	}

	rec, err = r.GetByRemoteID(ctx, id)
	if err != nil || rec != nil {
		return rec, err
	}

	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	want := strings.TrimSpace(id)
	for _, candidate := range all {
		if strings.TrimSpace(candidate.ID) == want || strings.TrimSpace(candidate.RemoteID) == want {
			return candidate, nil
		}
	}
	return nil, nil
}

// Put inserts or replaces a record
func (r *RecordRepository) Put(ctx context.Context, rec *models.Record) error {
	if rec.ID == "" {
		return models.ErrEmptyRecordID
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, remote_id, created_at, updated_at, sync_status, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			remote_id = excluded.remote_id,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			sync_status = excluded.sync_status,
			payload = excluded.payload`, r.table)

	_, err := r.q.ExecContext(ctx, query,
		rec.ID,
		nullableString(rec.RemoteID),
		rec.CreatedAt,
		rec.UpdatedAt,
		string(rec.SyncStatus),
		string(rec.Payload),
	)
	return err
}

// Delete removes a record. Returns false when no row matched.
func (r *RecordRepository) Delete(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", r.table)
	result, err := r.q.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetAll returns every record in the collection
func (r *RecordRepository) GetAll(ctx context.Context) ([]*models.Record, error) {
	query := fmt.Sprintf(`SELECT id, remote_id, created_at, updated_at, sync_status, payload
		FROM %s ORDER BY updated_at DESC`, r.table)
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// ListPending returns records still awaiting remote acknowledgment
func (r *RecordRepository) ListPending(ctx context.Context) ([]*models.Record, error) {
	query := fmt.Sprintf(`SELECT id, remote_id, created_at, updated_at, sync_status, payload
		FROM %s WHERE sync_status = ? ORDER BY updated_at ASC`, r.table)
	rows, err := r.q.QueryContext(ctx, query, string(models.SyncStatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *RecordRepository) scanOne(row *sql.Row) (*models.Record, error) {
	var rec models.Record
	var remoteID sql.NullString
	var payload string

	err := row.Scan(&rec.ID, &remoteID, &rec.CreatedAt, &rec.UpdatedAt, &rec.SyncStatus, &payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.RemoteID = remoteID.String
	rec.Payload = []byte(payload)
	return &rec, nil
}

func (r *RecordRepository) scanAll(rows *sql.Rows) ([]*models.Record, error) {
	var records []*models.Record
	for rows.Next() {
		var rec models.Record
		var remoteID sql.NullString
		var payload string
		if err := rows.Scan(&rec.ID, &remoteID, &rec.CreatedAt, &rec.UpdatedAt, &rec.SyncStatus, &payload); err != nil {
			return nil, err
		}
		rec.RemoteID = remoteID.String
		rec.Payload = []byte(payload)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
