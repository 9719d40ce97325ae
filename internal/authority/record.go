// Package authority implements the server side of the sync contract: an
// HTTP API over a record store that assigns remote ids, upserts pushes
// idempotently per client id, and keeps tombstones so deletions reach every
// collaborator.
package authority

import (
	"context"
	"encoding/json"
)

// Record is a server-held record for one collection
type Record struct {
	RemoteID  string          `json:"remoteId"`
	ClientID  string          `json:"clientId"`
	CreatedAt int64           `json:"createdAt"`
	UpdatedAt int64           `json:"updatedAt"`
	Payload   json.RawMessage `json:"payload"`
}

// RecordStore is the persistence contract behind the authority API.
// Implementations exist for SQLite and Postgres.
type RecordStore interface {
	// Upsert applies a pushed create or update, keyed on the client id so a
	// retried push resolves to the same remote id instead of duplicating the
	// record. An older updatedAt than the stored row leaves the row untouched
	// but still returns its remote id.
	Upsert(ctx context.Context, collection string, rec *Record) (string, error)

	// Delete removes a record by client or remote id and writes a tombstone.
	// Deleting an absent record is not an error.
	Delete(ctx context.Context, collection, id string, deletedAt int64) error

	// ChangedSince returns records whose updatedAt is strictly greater than since
	ChangedSince(ctx context.Context, collection string, since int64) ([]Record, error)

	// DeletedSince returns client ids tombstoned strictly after since
	DeletedSince(ctx context.Context, collection string, since int64) ([]string, error)

	Close() error
}
