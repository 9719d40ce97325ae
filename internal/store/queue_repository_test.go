package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinyang09/pilotlog/internal/models"
)

func enqueue(t *testing.T, repo *QueueRepository, op models.Op, recordID string, ts int64) *models.QueueItem {
	t.Helper()
	item := models.NewQueueItem(op, models.CollectionFlights, recordID, json.RawMessage(`{}`), ts)
	require.NoError(t, repo.Enqueue(context.Background(), item))
	return item
}

func TestQueueEnqueueDrain(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	repo := NewQueueRepository(st.DB())

	first := enqueue(t, repo, models.OpCreate, "rec-1", 100)
	second := enqueue(t, repo, models.OpUpdate, "rec-1", 200)
	third := enqueue(t, repo, models.OpCreate, "rec-2", 150)

	items, err := repo.Drain(ctx, models.CollectionFlights)
	require.NoError(t, err)
	require.Len(t, items, 3)

	// Enqueue order by timestamp
	assert.Equal(t, first.ID, items[0].ID)
	assert.Equal(t, third.ID, items[1].ID)
	assert.Equal(t, second.ID, items[2].ID)

	// Drain does not remove
	again, err := repo.Drain(ctx, models.CollectionFlights)
	require.NoError(t, err)
	assert.Len(t, again, 3)
}

func TestQueueDeleteCollapsesEarlierOps(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	repo := NewQueueRepository(st.DB())

	enqueue(t, repo, models.OpCreate, "rec-1", 100)
	enqueue(t, repo, models.OpUpdate, "rec-1", 200)
	kept := enqueue(t, repo, models.OpCreate, "rec-2", 150)
	del := enqueue(t, repo, models.OpDelete, "rec-1", 300)

	items, err := repo.Drain(ctx, models.CollectionFlights)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, kept.ID, items[0].ID)
	assert.Equal(t, del.ID, items[1].ID)
	assert.Equal(t, models.OpDelete, items[1].Op)
}

func TestQueueAcknowledge(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	repo := NewQueueRepository(st.DB())

	item := enqueue(t, repo, models.OpCreate, "rec-1", 100)

	ok, err := repo.Acknowledge(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second acknowledgment finds nothing
	ok, err = repo.Acknowledge(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	items, err := repo.Drain(ctx, models.CollectionFlights)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestQueueMarkFailed(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	repo := NewQueueRepository(st.DB())

	item := enqueue(t, repo, models.OpUpdate, "rec-1", 100)

	for i := 1; i < 5; i++ {
		retries, stuck, err := repo.MarkFailed(ctx, item.ID, 5)
		require.NoError(t, err)
		assert.Equal(t, i, retries)
		assert.False(t, stuck)
	}

	retries, stuck, err := repo.MarkFailed(ctx, item.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, retries)
	assert.True(t, stuck)

	// Stuck items are no longer drained but stay inspectable
	items, err := repo.Drain(ctx, models.CollectionFlights)
	require.NoError(t, err)
	assert.Empty(t, items)

	got, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.QueueStatusStuck, got.Status)

	stuckCount, err := repo.CountStuck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stuckCount)
}

func TestQueueHasPendingFor(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	repo := NewQueueRepository(st.DB())

	item := enqueue(t, repo, models.OpCreate, "rec-1", 100)

	pending, err := repo.HasPendingFor(ctx, models.CollectionFlights, "rec-1")
	require.NoError(t, err)
	assert.True(t, pending)

	_, err = repo.Acknowledge(ctx, item.ID)
	require.NoError(t, err)

	pending, err = repo.HasPendingFor(ctx, models.CollectionFlights, "rec-1")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestMetaRepository(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	repo := NewMetaRepository(st.DB())

	t.Run("zero when never synced", func(t *testing.T) {
		since, err := repo.LastSyncAt(ctx, models.CollectionFlights)
		require.NoError(t, err)
		assert.Zero(t, since)
	})

	t.Run("set and advance", func(t *testing.T) {
		require.NoError(t, repo.SetLastSyncAt(ctx, models.CollectionFlights, 500))
		since, err := repo.LastSyncAt(ctx, models.CollectionFlights)
		require.NoError(t, err)
		assert.Equal(t, int64(500), since)

		require.NoError(t, repo.SetLastSyncAt(ctx, models.CollectionFlights, 900))
		since, err = repo.LastSyncAt(ctx, models.CollectionFlights)
		require.NoError(t, err)
		assert.Equal(t, int64(900), since)
	})

	t.Run("all checkpoints", func(t *testing.T) {
		require.NoError(t, repo.SetLastSyncAt(ctx, models.CollectionAircraft, 700))
		all, err := repo.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(900), all[models.CollectionFlights])
		assert.Equal(t, int64(700), all[models.CollectionAircraft])
	})
}
