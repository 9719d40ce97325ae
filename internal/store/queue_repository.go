package store

import (
	"context"
	"database/sql"

	"github.com/chinyang09/pilotlog/internal/models"
)

// QueueRepository handles the durable sync queue
type QueueRepository struct {
	q Querier
}

// NewQueueRepository creates a new QueueRepository
func NewQueueRepository(q Querier) *QueueRepository {
	return &QueueRepository{q: q}
}

// WithQuerier returns a copy bound to q (usually a *sql.Tx)
func (r *QueueRepository) WithQuerier(q Querier) *QueueRepository {
	return &QueueRepository{q: q}
}

// Enqueue appends a queue item. When the item is a delete, earlier pending
// create/update entries for the same record are collapsed away in the same
// statement scope: the remote never needs to hear about a record that was
// created and deleted entirely offline, and a delete supersedes any update.
func (r *QueueRepository) Enqueue(ctx context.Context, item *models.QueueItem) error {
	if item.Op == models.OpDelete {
		collapse := `DELETE FROM sync_queue
			WHERE collection = ? AND record_id = ? AND status = ? AND op IN (?, ?)`
		if _, err := r.q.ExecContext(ctx, collapse,
			item.Collection, item.RecordID, string(models.QueueStatusPending),
			string(models.OpCreate), string(models.OpUpdate)); err != nil {
			return err
		}
	}

	query := `INSERT INTO sync_queue (id, op, collection, record_id, data, timestamp, retry_count, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.q.ExecContext(ctx, query,
		item.ID,
		string(item.Op),
		item.Collection,
		item.RecordID,
		string(item.Data),
		item.Timestamp,
		item.RetryCount,
		string(item.Status),
	)
	return err
}

// Drain returns all pending items for a collection in enqueue order without
// removing them. Removal happens only through Acknowledge after the remote
// accepted the operation.
func (r *QueueRepository) Drain(ctx context.Context, collection string) ([]*models.QueueItem, error) {
	query := `SELECT id, op, collection, record_id, data, timestamp, retry_count, status
		FROM sync_queue
		WHERE collection = ? AND status = ?
		ORDER BY timestamp ASC, rowid ASC`
	rows, err := r.q.QueryContext(ctx, query, collection, string(models.QueueStatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQueueItems(rows)
}

// Acknowledge removes an item after the remote accepted it. Returns false
// when the item no longer exists.
func (r *QueueRepository) Acknowledge(ctx context.Context, itemID string) (bool, error) {
	result, err := r.q.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", itemID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkFailed increments an item's retry counter and returns the new count.
// Items that reach maxRetries are flipped to stuck and never drained again;
// the caller is responsible for surfacing them.
func (r *QueueRepository) MarkFailed(ctx context.Context, itemID string, maxRetries int) (int, bool, error) {
	if _, err := r.q.ExecContext(ctx,
		"UPDATE sync_queue SET retry_count = retry_count + 1 WHERE id = ?", itemID); err != nil {
		return 0, false, err
	}

	var retryCount int
	err := r.q.QueryRowContext(ctx,
		"SELECT retry_count FROM sync_queue WHERE id = ?", itemID).Scan(&retryCount)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	stuck := retryCount >= maxRetries
	if stuck {
		if _, err := r.q.ExecContext(ctx,
			"UPDATE sync_queue SET status = ? WHERE id = ?",
			string(models.QueueStatusStuck), itemID); err != nil {
			return retryCount, false, err
		}
	}
	return retryCount, stuck, nil
}

// Get retrieves a queue item by id. (nil, nil) when absent.
func (r *QueueRepository) Get(ctx context.Context, itemID string) (*models.QueueItem, error) {
	query := `SELECT id, op, collection, record_id, data, timestamp, retry_count, status
		FROM sync_queue WHERE id = ?`
	rows, err := r.q.QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items, err := scanQueueItems(rows)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

// HasPendingFor reports whether any unacknowledged queue entry references the record
func (r *QueueRepository) HasPendingFor(ctx context.Context, collection, recordID string) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sync_queue WHERE collection = ? AND record_id = ? AND status = ?",
		collection, recordID, string(models.QueueStatusPending)).Scan(&count)
	return count > 0, err
}

// CountPending returns the number of pending items across all collections
func (r *QueueRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sync_queue WHERE status = ?",
		string(models.QueueStatusPending)).Scan(&count)
	return count, err
}

// CountStuck returns the number of permanently failed items
func (r *QueueRepository) CountStuck(ctx context.Context) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sync_queue WHERE status = ?",
		string(models.QueueStatusStuck)).Scan(&count)
	return count, err
}

func scanQueueItems(rows *sql.Rows) ([]*models.QueueItem, error) {
	var items []*models.QueueItem
	for rows.Next() {
		var item models.QueueItem
		var op, status, data string
		if err := rows.Scan(&item.ID, &op, &item.Collection, &item.RecordID, &data,
			&item.Timestamp, &item.RetryCount, &status); err != nil {
			return nil, err
		}
		item.Op = models.Op(op)
		item.Status = models.QueueStatus(status)
		item.Data = []byte(data)
		items = append(items, &item)
	}
	return items, rows.Err()
}
