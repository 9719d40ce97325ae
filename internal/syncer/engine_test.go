package syncer

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinyang09/pilotlog/internal/broadcast"
	"github.com/chinyang09/pilotlog/internal/crud"
	"github.com/chinyang09/pilotlog/internal/models"
	"github.com/chinyang09/pilotlog/internal/remote"
	"github.com/chinyang09/pilotlog/internal/store"
)

// fakeAuthority is an in-memory Authority with programmable failures
type fakeAuthority struct {
	mu     sync.Mutex
	pushed []*models.PushRequest
	pushFn func(collection string, req *models.PushRequest) (*models.PushResponse, error)
	pullFn func(collection string, since int64) (*models.PullResponse, error)
}

func (f *fakeAuthority) Push(ctx context.Context, collection string, req *models.PushRequest) (*models.PushResponse, error) {
	f.mu.Lock()
	f.pushed = append(f.pushed, req)
	fn := f.pushFn
	f.mu.Unlock()

	if fn != nil {
		return fn(collection, req)
	}
	return &models.PushResponse{RemoteID: "srv-" + req.RecordID}, nil
}

func (f *fakeAuthority) Pull(ctx context.Context, collection string, since int64) (*models.PullResponse, error) {
	f.mu.Lock()
	fn := f.pullFn
	f.mu.Unlock()

	if fn != nil {
		return fn(collection, since)
	}
	return &models.PullResponse{ServerTime: since}, nil
}

func (f *fakeAuthority) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushed)
}

type testRig struct {
	store       *store.Store
	crud        *crud.Service
	authority   *fakeAuthority
	broadcaster *broadcast.Broadcaster
	engine      *Engine
}

func newRig(t *testing.T, opts ...Option) *testRig {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	crudSvc := crud.NewService(st)
	authority := &fakeAuthority{}
	bc := broadcast.New(true)

	return &testRig{
		store:       st,
		crud:        crudSvc,
		authority:   authority,
		broadcaster: bc,
		engine:      NewEngine(st, crudSvc, authority, bc, opts...),
	}
}

func (r *testRig) createFlights(t *testing.T, n int) []*models.Record {
	t.Helper()
	records := make([]*models.Record, 0, n)
	for i := 0; i < n; i++ {
		rec, err := r.crud.Create(context.Background(), models.CollectionFlights,
			json.RawMessage(`{"leg":`+string(rune('0'+i))+`}`))
		require.NoError(t, err)
		records = append(records, rec)
	}
	return records
}

func (r *testRig) pendingCount(t *testing.T) int {
	t.Helper()
	count, err := store.NewQueueRepository(r.store.DB()).CountPending(context.Background())
	require.NoError(t, err)
	return count
}

func TestSyncPushesQueuedCreates(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)
	records := rig.createFlights(t, 2)

	result, err := rig.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Pushed)
	assert.Zero(t, result.Failed)
	assert.Zero(t, rig.pendingCount(t))

	for _, rec := range records {
		got, err := rig.crud.Get(ctx, models.CollectionFlights, rec.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)
		assert.Equal(t, "srv-"+rec.ID, got.RemoteID)
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)
	records := rig.createFlights(t, 5)
	badID := records[2].ID

	rig.authority.pushFn = func(collection string, req *models.PushRequest) (*models.PushResponse, error) {
		if req.RecordID == badID {
			return nil, &remote.ServerError{StatusCode: 500}
		}
		return &models.PushResponse{RemoteID: "srv-" + req.RecordID}, nil
	}

	result, err := rig.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Pushed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, rig.pendingCount(t))

	items, err := store.NewQueueRepository(rig.store.DB()).Drain(ctx, models.CollectionFlights)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, badID, items[0].RecordID)
	assert.Equal(t, 1, items[0].RetryCount)
}

func TestFailedItemRetriesNextPass(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)
	rec := rig.createFlights(t, 1)[0]

	failing := true
	rig.authority.pushFn = func(collection string, req *models.PushRequest) (*models.PushResponse, error) {
		if failing {
			return nil, &remote.NetworkError{Err: context.DeadlineExceeded}
		}
		return &models.PushResponse{RemoteID: "srv-" + req.RecordID}, nil
	}

	result, err := rig.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, rig.pendingCount(t))

	failing = false
	result, err = rig.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)
	assert.Zero(t, rig.pendingCount(t))

	got, err := rig.crud.Get(ctx, models.CollectionFlights, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)
}

func TestAuthFailureAbortsPass(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)
	rig.createFlights(t, 3)

	rig.authority.pushFn = func(collection string, req *models.PushRequest) (*models.PushResponse, error) {
		return nil, &remote.AuthError{StatusCode: 401}
	}

	result, err := rig.engine.Sync(ctx)
	assert.True(t, remote.IsAuth(err))
	assert.Zero(t, result.Pushed)

	// Nothing was marked failed; the items wait for re-authentication
	items, err := store.NewQueueRepository(rig.store.DB()).Drain(ctx, models.CollectionFlights)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, item := range items {
		assert.Zero(t, item.RetryCount)
	}
	// Only one push was attempted before the abort
	assert.Equal(t, 1, rig.authority.pushCount())
}

func TestRetryCeilingReportsStuck(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, WithMaxRetries(2))
	rig.createFlights(t, 1)

	rig.authority.pushFn = func(collection string, req *models.PushRequest) (*models.PushResponse, error) {
		return nil, &remote.ServerError{StatusCode: 503}
	}

	var reports []broadcast.StuckReport
	rig.broadcaster.OnStuck(func(r broadcast.StuckReport) { reports = append(reports, r) })

	_, err := rig.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Empty(t, reports)

	_, err = rig.engine.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, models.CollectionFlights, reports[0].Collection)

	// Stuck items are excluded from later passes
	result, err := rig.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Failed)

	stuck, err := store.NewQueueRepository(rig.store.DB()).CountStuck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stuck)
}

func TestConcurrentLocalWriteStaysPending(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)
	rec := rig.createFlights(t, 1)[0]

	rig.authority.pushFn = func(collection string, req *models.PushRequest) (*models.PushResponse, error) {
		// A local update lands while the push is in flight
		_, err := rig.crud.Update(ctx, models.CollectionFlights, rec.ID, json.RawMessage(`{"leg":99}`))
		require.NoError(t, err)
		return &models.PushResponse{RemoteID: "srv-" + req.RecordID}, nil
	}

	result, err := rig.engine.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)

	got, err := rig.crud.Get(ctx, models.CollectionFlights, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "srv-"+rec.ID, got.RemoteID)
	// The newer local write must not be masked by the acknowledgment
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)
	assert.Equal(t, 1, rig.pendingCount(t))
}

func TestLaterQueuedEditSurvivesFailedUpdatePush(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)

	clock := int64(100)
	rig.crud.WithClock(func() int64 { return clock })

	rec, err := rig.crud.Create(ctx, models.CollectionFlights, json.RawMessage(`{"leg":1}`))
	require.NoError(t, err)

	clock = 200
	_, err = rig.crud.Update(ctx, models.CollectionFlights, rec.ID, json.RawMessage(`{"leg":2}`))
	require.NoError(t, err)

	failing := true
	rig.authority.pushFn = func(collection string, req *models.PushRequest) (*models.PushResponse, error) {
		if req.Op == models.OpUpdate && failing {
			failing = false
			return nil, &remote.ServerError{StatusCode: 503}
		}
		return &models.PushResponse{RemoteID: "srv-" + req.RecordID}, nil
	}
	// The pull echoes the server's copy, which only saw the create
	rig.authority.pullFn = func(collection string, since int64) (*models.PullResponse, error) {
		if collection != models.CollectionFlights {
			return &models.PullResponse{ServerTime: 500}, nil
		}
		return &models.PullResponse{
			Records: []models.RemoteRecord{
				{ID: rec.ID, RemoteID: "srv-" + rec.ID, CreatedAt: 100, UpdatedAt: 100, Payload: json.RawMessage(`{"leg":1}`)},
			},
			ServerTime: 500,
		}, nil
	}

	result, err := rig.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)
	assert.Equal(t, 1, result.Failed)

	// The create push carried the payload and timestamp it was queued with,
	// not the record's current updatedAt
	rig.authority.mu.Lock()
	created := rig.authority.pushed[0]
	rig.authority.mu.Unlock()
	assert.Equal(t, models.OpCreate, created.Op)
	assert.Equal(t, int64(100), created.UpdatedAt)
	assert.JSONEq(t, `{"leg":1}`, string(created.Data))

	// The edit stays pending and its payload is untouched by the echoed pull
	got, err := rig.crud.Get(ctx, models.CollectionFlights, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)
	assert.JSONEq(t, `{"leg":2}`, string(got.Payload))
	assert.Equal(t, 1, rig.pendingCount(t))

	// The retried update completes on the next pass
	result, err = rig.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)

	got, err = rig.crud.Get(ctx, models.CollectionFlights, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)
	assert.JSONEq(t, `{"leg":2}`, string(got.Payload))
	assert.Zero(t, rig.pendingCount(t))
}

func TestPullAppliesRecordsAndTombstones(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)

	// A locally synced record the server has since deleted
	doomed, err := rig.crud.Create(ctx, models.CollectionFlights, json.RawMessage(`{"leg":1}`))
	require.NoError(t, err)
	_, err = rig.engine.Push(ctx)
	require.NoError(t, err)

	rig.authority.pullFn = func(collection string, since int64) (*models.PullResponse, error) {
		if collection != models.CollectionFlights {
			return &models.PullResponse{ServerTime: 5000}, nil
		}
		return &models.PullResponse{
			Records: []models.RemoteRecord{
				{ID: "srv-new", RemoteID: "srv-new", CreatedAt: 3000, UpdatedAt: 3200, Payload: json.RawMessage(`{"leg":2}`)},
			},
			DeletedIDs: []string{doomed.ID},
			ServerTime: 5000,
		}, nil
	}

	dataChanged := 0
	rig.broadcaster.OnDataChanged(func() { dataChanged++ })

	result, err := rig.engine.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Pulled)
	assert.Equal(t, 1, dataChanged)

	// The new record arrived synced
	got, err := rig.crud.Get(ctx, models.CollectionFlights, "srv-new")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)

	// The tombstoned record is gone and its deletion was not echoed
	gone, err := rig.crud.Get(ctx, models.CollectionFlights, doomed.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.Zero(t, rig.pendingCount(t))

	// Checkpoint advanced to the max observed updatedAt
	since, err := store.NewMetaRepository(rig.store.DB()).LastSyncAt(ctx, models.CollectionFlights)
	require.NoError(t, err)
	assert.Equal(t, int64(3200), since)
}

func TestEmptyPullAdvancesToServerTime(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)

	rig.authority.pullFn = func(collection string, since int64) (*models.PullResponse, error) {
		return &models.PullResponse{ServerTime: 7000}, nil
	}

	dataChanged := 0
	rig.broadcaster.OnDataChanged(func() { dataChanged++ })

	result, err := rig.engine.Pull(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Pulled)
	assert.Zero(t, dataChanged)

	for _, collection := range models.Collections {
		since, err := store.NewMetaRepository(rig.store.DB()).LastSyncAt(ctx, collection)
		require.NoError(t, err)
		assert.Equal(t, int64(7000), since)
	}
}

func TestRepeatedPullConverges(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)

	rig.authority.pullFn = func(collection string, since int64) (*models.PullResponse, error) {
		if collection != models.CollectionFlights || since >= 3200 {
			return &models.PullResponse{ServerTime: 5000}, nil
		}
		return &models.PullResponse{
			Records: []models.RemoteRecord{
				{ID: "srv-new", RemoteID: "srv-new", CreatedAt: 3000, UpdatedAt: 3200, Payload: json.RawMessage(`{"leg":2}`)},
			},
			ServerTime: 5000,
		}, nil
	}

	first, err := rig.engine.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Pulled)

	// The same snapshot again applies nothing new
	second, err := rig.engine.Pull(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Pulled)
}

func TestConcurrentTriggerCoalesces(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	rig.authority.pullFn = func(collection string, since int64) (*models.PullResponse, error) {
		once.Do(func() {
			close(entered)
			<-release
		})
		return &models.PullResponse{ServerTime: since}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := rig.engine.Sync(ctx)
		done <- err
	}()

	<-entered
	_, err := rig.engine.Sync(ctx)
	assert.Equal(t, ErrSyncInProgress, err)
	assert.Equal(t, broadcast.StatusSyncing, rig.broadcaster.Status())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, broadcast.StatusOnline, rig.broadcaster.Status())
}

func TestPassDeadline(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, WithTimeout(50*time.Millisecond))
	rig.createFlights(t, 2)

	pushes := 0
	rig.authority.pushFn = func(collection string, req *models.PushRequest) (*models.PushResponse, error) {
		pushes++
		if pushes == 2 {
			time.Sleep(100 * time.Millisecond)
		}
		return &models.PushResponse{RemoteID: "srv-" + req.RecordID}, nil
	}

	result, err := rig.engine.Sync(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// The first acknowledgment landed before the deadline; partial progress
	// is kept
	assert.Equal(t, 1, result.Pushed)
	assert.Equal(t, 1, rig.pendingCount(t))
}
