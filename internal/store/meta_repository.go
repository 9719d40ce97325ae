package store

import (
	"context"
	"database/sql"
)

// MetaRepository handles per-collection pull checkpoints
type MetaRepository struct {
	q Querier
}

// NewMetaRepository creates a new MetaRepository
func NewMetaRepository(q Querier) *MetaRepository {
	return &MetaRepository{q: q}
}

// LastSyncAt returns the pull checkpoint for a collection, 0 when never synced
func (r *MetaRepository) LastSyncAt(ctx context.Context, collection string) (int64, error) {
	var lastSyncAt int64
	err := r.q.QueryRowContext(ctx,
		"SELECT last_sync_at FROM sync_meta WHERE collection = ?", collection).Scan(&lastSyncAt)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return lastSyncAt, nil
}

// SetLastSyncAt advances the pull checkpoint. Callers persist it only after
// a pull batch has fully applied, so an interrupted pull re-fetches the same
// window instead of skipping records.
func (r *MetaRepository) SetLastSyncAt(ctx context.Context, collection string, lastSyncAt int64) error {
	query := `INSERT INTO sync_meta (collection, last_sync_at) VALUES (?, ?)
		ON CONFLICT (collection) DO UPDATE SET last_sync_at = excluded.last_sync_at`
	_, err := r.q.ExecContext(ctx, query, collection, lastSyncAt)
	return err
}

// All returns every collection checkpoint
func (r *MetaRepository) All(ctx context.Context) (map[string]int64, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT collection, last_sync_at FROM sync_meta")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	checkpoints := make(map[string]int64)
	for rows.Next() {
		var collection string
		var lastSyncAt int64
		if err := rows.Scan(&collection, &lastSyncAt); err != nil {
			return nil, err
		}
		checkpoints[collection] = lastSyncAt
	}
	return checkpoints, rows.Err()
}
