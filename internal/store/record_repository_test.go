package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinyang09/pilotlog/internal/models"
)

func testRecord(id string, updatedAt int64) *models.Record {
	return &models.Record{
		ID:         id,
		CreatedAt:  updatedAt,
		UpdatedAt:  updatedAt,
		SyncStatus: models.SyncStatusPending,
		Payload:    json.RawMessage(`{"tail":"N12345"}`),
	}
}

func TestRecordRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects unknown collection", func(t *testing.T) {
		st := openTestStore(t)
		_, err := NewRecordRepository(st.DB(), "logbooks")
		assert.Equal(t, models.ErrUnknownCollection, err)
	})

	t.Run("get absent returns nil nil", func(t *testing.T) {
		st := openTestStore(t)
		repo, err := NewRecordRepository(st.DB(), models.CollectionFlights)
		require.NoError(t, err)

		rec, err := repo.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("put then get round trips", func(t *testing.T) {
		st := openTestStore(t)
		repo, err := NewRecordRepository(st.DB(), models.CollectionFlights)
		require.NoError(t, err)

		require.NoError(t, repo.Put(ctx, testRecord("rec-1", 100)))

		rec, err := repo.Get(ctx, "rec-1")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "rec-1", rec.ID)
		assert.Equal(t, int64(100), rec.UpdatedAt)
		assert.Equal(t, models.SyncStatusPending, rec.SyncStatus)
		assert.JSONEq(t, `{"tail":"N12345"}`, string(rec.Payload))
	})

	t.Run("put updates existing row", func(t *testing.T) {
		st := openTestStore(t)
		repo, err := NewRecordRepository(st.DB(), models.CollectionFlights)
		require.NoError(t, err)

		require.NoError(t, repo.Put(ctx, testRecord("rec-1", 100)))

		updated := testRecord("rec-1", 200)
		updated.RemoteID = "srv-9"
		updated.SyncStatus = models.SyncStatusSynced
		require.NoError(t, repo.Put(ctx, updated))

		rec, err := repo.Get(ctx, "rec-1")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, int64(200), rec.UpdatedAt)
		assert.Equal(t, "srv-9", rec.RemoteID)
		assert.Equal(t, models.SyncStatusSynced, rec.SyncStatus)
	})

	t.Run("put rejects empty id", func(t *testing.T) {
		st := openTestStore(t)
		repo, err := NewRecordRepository(st.DB(), models.CollectionFlights)
		require.NoError(t, err)
		assert.Equal(t, models.ErrEmptyRecordID, repo.Put(ctx, testRecord("", 100)))
	})

	t.Run("delete absent returns false", func(t *testing.T) {
		st := openTestStore(t)
		repo, err := NewRecordRepository(st.DB(), models.CollectionFlights)
		require.NoError(t, err)

		deleted, err := repo.Delete(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("delete existing returns true", func(t *testing.T) {
		st := openTestStore(t)
		repo, err := NewRecordRepository(st.DB(), models.CollectionFlights)
		require.NoError(t, err)

		require.NoError(t, repo.Put(ctx, testRecord("rec-1", 100)))
		deleted, err := repo.Delete(ctx, "rec-1")
		require.NoError(t, err)
		assert.True(t, deleted)

		rec, err := repo.Get(ctx, "rec-1")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("collections are isolated", func(t *testing.T) {
		st := openTestStore(t)
		flights, err := NewRecordRepository(st.DB(), models.CollectionFlights)
		require.NoError(t, err)
		aircraft, err := NewRecordRepository(st.DB(), models.CollectionAircraft)
		require.NoError(t, err)

		require.NoError(t, flights.Put(ctx, testRecord("rec-1", 100)))

		rec, err := aircraft.Get(ctx, "rec-1")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})
}

func TestListPending(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	repo, err := NewRecordRepository(st.DB(), models.CollectionFlights)
	require.NoError(t, err)

	pending := testRecord("rec-1", 100)
	require.NoError(t, repo.Put(ctx, pending))

	synced := testRecord("rec-2", 200)
	synced.SyncStatus = models.SyncStatusSynced
	require.NoError(t, repo.Put(ctx, synced))

	records, err := repo.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rec-1", records[0].ID)
}

func TestFindByID(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	repo, err := NewRecordRepository(st.DB(), models.CollectionFlights)
	require.NoError(t, err)

	rec := testRecord("local-1", 100)
	rec.RemoteID = "srv-1"
	require.NoError(t, repo.Put(ctx, rec))

	padded := testRecord(" padded-2 ", 100)
	require.NoError(t, repo.Put(ctx, padded))

	t.Run("finds by primary key", func(t *testing.T) {
		found, err := repo.FindByID(ctx, "local-1")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "local-1", found.ID)
	})

	t.Run("falls back to remote id", func(t *testing.T) {
		found, err := repo.FindByID(ctx, "srv-1")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "local-1", found.ID)
	})

	t.Run("falls back to normalized scan", func(t *testing.T) {
		found, err := repo.FindByID(ctx, "padded-2")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, " padded-2 ", found.ID)
	})

	t.Run("absent returns nil nil", func(t *testing.T) {
		found, err := repo.FindByID(ctx, "nowhere")
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}
