// Package crud is the single write path for local records. Every mutation
// that must reach the remote authority pairs the record write with a durable
// queue entry inside one transaction, so a crash can never produce a changed
// record the sync engine does not know about.
package crud

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/chinyang09/pilotlog/internal/models"
	"github.com/chinyang09/pilotlog/internal/observability"
	"github.com/chinyang09/pilotlog/internal/store"
)

// Service coordinates record writes and queue entries per collection
type Service struct {
	store  *store.Store
	reader store.Querier
	now    func() int64
}

// NewService creates a CRUD service over the given store. Reads outside a
// transaction go through the traced wrapper.
func NewService(st *store.Store) *Service {
	return &Service{
		store:  st,
		reader: observability.NewTraceDB(st.DB()),
		now:    models.NowMillis,
	}
}

// WithClock overrides the timestamp source, used by tests
func (s *Service) WithClock(now func() int64) *Service {
	s.now = now
	return s
}

// Get returns a record by primary key, (nil, nil) when absent
func (s *Service) Get(ctx context.Context, collection, id string) (*models.Record, error) {
	repo, err := store.NewRecordRepository(s.reader, collection)
	if err != nil {
		return nil, err
	}
	return repo.Get(ctx, id)
}

// GetAll returns every record in a collection, newest change first
func (s *Service) GetAll(ctx context.Context, collection string) ([]*models.Record, error) {
	repo, err := store.NewRecordRepository(s.reader, collection)
	if err != nil {
		return nil, err
	}
	return repo.GetAll(ctx)
}

// Create inserts a new record and queues a create operation. The record is
// born pending; it becomes synced only after the engine pushes it.
func (s *Service) Create(ctx context.Context, collection string, payload json.RawMessage) (*models.Record, error) {
	if err := models.ValidateCollection(collection); err != nil {
		return nil, err
	}
	record, err := models.NewRecord(payload, s.now())
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		recordRepo, err := store.NewRecordRepository(tx, collection)
		if err != nil {
			return err
		}
		if err := recordRepo.Put(ctx, record); err != nil {
			return err
		}
		item := models.NewQueueItem(models.OpCreate, collection, record.ID, record.Payload, record.UpdatedAt)
		return store.NewQueueRepository(tx).Enqueue(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Update merges the partial payload into an existing record and queues an
// update carrying the full merged payload. Returns (nil, nil) when the record
// does not exist; updating a missing record is not an error, the caller's
// view was simply stale.
func (s *Service) Update(ctx context.Context, collection, id string, partial json.RawMessage) (*models.Record, error) {
	if err := models.ValidateCollection(collection); err != nil {
		return nil, err
	}
	if len(partial) == 0 {
		return nil, models.ErrEmptyPayload
	}

	var updated *models.Record
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		recordRepo, err := store.NewRecordRepository(tx, collection)
		if err != nil {
			return err
		}
		record, err := recordRepo.Get(ctx, id)
		if err != nil {
			return err
		}
		if record == nil {
			return nil
		}

		if err := record.MergePayload(partial); err != nil {
			return err
		}
		record.UpdatedAt = s.now()
		record.SyncStatus = models.SyncStatusPending
		if err := recordRepo.Put(ctx, record); err != nil {
			return err
		}

		item := models.NewQueueItem(models.OpUpdate, collection, record.ID, record.Payload, record.UpdatedAt)
		if err := store.NewQueueRepository(tx).Enqueue(ctx, item); err != nil {
			return err
		}
		updated = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a record and queues a delete operation. Returns false when
// the record does not exist. The queue entry carries only the record id; by
// push time the row itself is gone.
func (s *Service) Delete(ctx context.Context, collection, id string) (bool, error) {
	if err := models.ValidateCollection(collection); err != nil {
		return false, err
	}

	deleted := false
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		recordRepo, err := store.NewRecordRepository(tx, collection)
		if err != nil {
			return err
		}
		removed, err := recordRepo.Delete(ctx, id)
		if err != nil {
			return err
		}
		if !removed {
			return nil
		}

		data, err := json.Marshal(models.DeleteData{ID: id})
		if err != nil {
			return err
		}
		item := models.NewQueueItem(models.OpDelete, collection, id, data, s.now())
		if err := store.NewQueueRepository(tx).Enqueue(ctx, item); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// SilentDelete removes a record without queueing anything. Used when applying
// a remote tombstone: echoing the delete back to the server that issued it
// would loop forever. Tolerates id drift by falling back to the remote-id and
// payload-id lookup chain.
func (s *Service) SilentDelete(ctx context.Context, collection, id string) (bool, error) {
	if err := models.ValidateCollection(collection); err != nil {
		return false, err
	}

	deleted := false
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		recordRepo, err := store.NewRecordRepository(tx, collection)
		if err != nil {
			return err
		}
		record, err := recordRepo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if record == nil {
			return nil
		}
		removed, err := recordRepo.Delete(ctx, record.ID)
		if err != nil {
			return err
		}
		deleted = removed
		return nil
	})
	return deleted, err
}

// UpsertFromServer applies one pulled record under last-write-wins. The
// server side wins on ties so that repeated pulls of the same snapshot
// converge instead of flapping. A strictly newer local record is left
// untouched; its pending queue entry will carry the local version up on the
// next push.
func (s *Service) UpsertFromServer(ctx context.Context, collection string, remote *models.RemoteRecord) (bool, error) {
	if err := models.ValidateCollection(collection); err != nil {
		return false, err
	}

	applied := false
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		recordRepo, err := store.NewRecordRepository(tx, collection)
		if err != nil {
			return err
		}
		local, err := recordRepo.FindByID(ctx, remote.ID)
		if err != nil {
			return err
		}
		if local == nil && remote.RemoteID != "" {
			local, err = recordRepo.GetByRemoteID(ctx, remote.RemoteID)
			if err != nil {
				return err
			}
		}

		if local == nil {
			record := &models.Record{
				ID:         remote.ID,
				RemoteID:   remote.RemoteID,
				CreatedAt:  remote.CreatedAt,
				UpdatedAt:  remote.UpdatedAt,
				SyncStatus: models.SyncStatusSynced,
				Payload:    remote.Payload,
			}
			if err := recordRepo.Put(ctx, record); err != nil {
				return err
			}
			applied = true
			return nil
		}

		if local.EffectiveTimestamp() > remote.EffectiveTimestamp() {
			return nil
		}

		// Server wins: overwrite fields but keep the local primary key so
		// existing references stay valid.
		local.RemoteID = remote.RemoteID
		local.CreatedAt = remote.CreatedAt
		local.UpdatedAt = remote.UpdatedAt
		local.Payload = remote.Payload
		local.SyncStatus = models.SyncStatusSynced
		if err := recordRepo.Put(ctx, local); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}
