// Package syncer drives synchronization between the local store and the
// remote authority: push drains the durable queue, pull applies remote
// changes under last-write-wins, and a full pass is always push then pull so
// local intent reaches the server before its view is applied locally.
package syncer

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chinyang09/pilotlog/internal/broadcast"
	"github.com/chinyang09/pilotlog/internal/crud"
	"github.com/chinyang09/pilotlog/internal/models"
	"github.com/chinyang09/pilotlog/internal/observability"
	"github.com/chinyang09/pilotlog/internal/remote"
	"github.com/chinyang09/pilotlog/internal/store"
)

// ErrSyncInProgress is returned to concurrent triggers while a pass is
// running. Callers treat it as a no-op; the running pass covers their intent.
var ErrSyncInProgress = errors.New("sync already in progress")

const (
	// DefaultTimeout bounds a whole pass
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the per-item retry ceiling before an item is
	// declared stuck
	DefaultMaxRetries = 5
)

// Authority is the remote contract the engine consumes
type Authority interface {
	Push(ctx context.Context, collection string, req *models.PushRequest) (*models.PushResponse, error)
	Pull(ctx context.Context, collection string, since int64) (*models.PullResponse, error)
}

// Engine runs sync passes. One pass at a time; see Sync.
type Engine struct {
	store       *store.Store
	crud        *crud.Service
	remote      Authority
	broadcaster *broadcast.Broadcaster
	metrics     *observability.SyncMetrics
	logger      *observability.Logger

	timeout    time.Duration
	maxRetries int

	running atomic.Bool
}

// Option configures an Engine
type Option func(*Engine)

// WithTimeout overrides the pass deadline
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithMaxRetries overrides the per-item retry ceiling
func WithMaxRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// NewEngine creates a sync engine
func NewEngine(st *store.Store, crudSvc *crud.Service, authority Authority, bc *broadcast.Broadcaster, opts ...Option) *Engine {
	metrics, err := observability.NewSyncMetrics()
	if err != nil {
		observability.Warnf("sync metrics unavailable: %v", err)
	}

	e := &Engine{
		store:       st,
		crud:        crudSvc,
		remote:      authority,
		broadcaster: bc,
		metrics:     metrics,
		logger:      observability.WithField("component", "syncer"),
		timeout:     DefaultTimeout,
		maxRetries:  DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sync runs a full pass: push, then pull. Partial progress survives any
// failure; acknowledged items stay acknowledged and applied records stay
// applied.
func (e *Engine) Sync(ctx context.Context) (*models.SyncResult, error) {
	return e.runPass(ctx, "sync", true, true)
}

// Push transmits pending queue items without pulling
func (e *Engine) Push(ctx context.Context) (*models.SyncResult, error) {
	return e.runPass(ctx, "push", true, false)
}

// Pull applies remote changes without pushing
func (e *Engine) Pull(ctx context.Context) (*models.SyncResult, error) {
	return e.runPass(ctx, "pull", false, true)
}

func (e *Engine) runPass(ctx context.Context, name string, doPush, doPull bool) (*models.SyncResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer e.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	e.broadcaster.BeginSync()
	defer e.broadcaster.EndSync()

	ctx, span := observability.StartSpan(ctx, "syncer."+name,
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	start := time.Now()
	result := &models.SyncResult{}
	var passErr error

	if doPush {
		passErr = e.pushAll(ctx, result)
	}

	applied := 0
	if doPull && passErr == nil {
		applied, passErr = e.pullAll(ctx, result)
	}

	span.SetAttributes(
		attribute.Int("sync.pushed", result.Pushed),
		attribute.Int("sync.pulled", result.Pulled),
		attribute.Int("sync.failed", result.Failed),
	)
	e.metrics.RecordPass(ctx, result.Pushed, result.Pulled, result.Failed, time.Since(start))

	if applied > 0 {
		e.broadcaster.NotifyDataChanged()
	}

	if passErr != nil {
		observability.RecordError(span, passErr)
		e.logger.WithContext(ctx).Errorf("%s pass aborted after %v: %v (pushed=%d pulled=%d failed=%d)",
			name, time.Since(start), passErr, result.Pushed, result.Pulled, result.Failed)
		return result, passErr
	}

	observability.SetSuccess(span)
	e.logger.WithContext(ctx).Infof("%s pass done in %v: pushed=%d pulled=%d failed=%d",
		name, time.Since(start), result.Pushed, result.Pulled, result.Failed)
	return result, nil
}

// pushAll drains every collection's queue in order. A failed item is marked
// and skipped so one bad record cannot block the rest; auth failures and the
// pass deadline abort everything.
func (e *Engine) pushAll(ctx context.Context, result *models.SyncResult) error {
	ctx, span := observability.StartSpan(ctx, "syncer.push")
	defer span.End()

	for _, collection := range models.Collections {
		if err := e.pushCollection(ctx, collection, result); err != nil {
			observability.RecordError(span, err)
			return err
		}
	}
	observability.SetSuccess(span)
	return nil
}

func (e *Engine) pushCollection(ctx context.Context, collection string, result *models.SyncResult) error {
	queueRepo := store.NewQueueRepository(e.store.DB())
	recordRepo, err := store.NewRecordRepository(e.store.DB(), collection)
	if err != nil {
		return err
	}

	items, err := queueRepo.Drain(ctx, collection)
	if err != nil {
		return err
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}

		req := &models.PushRequest{
			Op:        item.Op,
			RecordID:  item.RecordID,
			Data:      item.Data,
			CreatedAt: item.Timestamp,
			UpdatedAt: item.Timestamp,
		}

		// The queued payload travels with its enqueue-time timestamp; the
		// record re-read contributes identity fields only. Restamping the old
		// payload with the record's current updatedAt would let it win
		// last-write-wins against a later edit queued behind this item.
		if item.Op != models.OpDelete {
			record, err := recordRepo.Get(ctx, item.RecordID)
			if err != nil {
				return err
			}
			if record == nil {
				// Record vanished without a collapsing delete; nothing left
				// to transmit for this entry.
				if _, err := queueRepo.Acknowledge(ctx, item.ID); err != nil {
					return err
				}
				continue
			}
			req.RemoteID = record.RemoteID
			req.CreatedAt = record.CreatedAt
		}

		resp, err := e.remote.Push(ctx, collection, req)
		if err != nil {
			if remote.IsAuth(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return err
			}
			if markErr := e.markItemFailed(ctx, collection, item, err); markErr != nil {
				return markErr
			}
			result.Failed++
			continue
		}

		if err := e.acknowledge(ctx, collection, item, resp.RemoteID); err != nil {
			return err
		}
		result.Pushed++
	}
	return nil
}

func (e *Engine) markItemFailed(ctx context.Context, collection string, item *models.QueueItem, cause error) error {
	queueRepo := store.NewQueueRepository(e.store.DB())
	retries, stuck, err := queueRepo.MarkFailed(ctx, item.ID, e.maxRetries)
	if err != nil {
		return err
	}
	e.metrics.RecordItemFailure(ctx, collection)

	log := e.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"collection": collection,
		"item_id":    item.ID,
		"op":         string(item.Op),
		"retries":    retries,
	})
	if stuck {
		log.Errorf("queue item permanently failed: %v", cause)
		e.broadcaster.ReportStuck(broadcast.StuckReport{
			Collection: collection,
			ItemID:     item.ID,
			Err:        cause,
		})
	} else {
		log.Warnf("queue item failed, will retry: %v", cause)
	}
	return nil
}

// acknowledge removes the queue entry and records the remote id. The record
// flips to synced only when its updatedAt still equals the item's
// enqueue-time timestamp; a newer local write, whether already queued or
// landing mid-push, keeps it pending until its own item is acknowledged.
func (e *Engine) acknowledge(ctx context.Context, collection string, item *models.QueueItem, remoteID string) error {
	return e.store.WithTx(ctx, func(tx *sql.Tx) error {
		queueRepo := store.NewQueueRepository(tx)
		if _, err := queueRepo.Acknowledge(ctx, item.ID); err != nil {
			return err
		}
		if item.Op == models.OpDelete {
			return nil
		}

		recordRepo, err := store.NewRecordRepository(tx, collection)
		if err != nil {
			return err
		}
		record, err := recordRepo.Get(ctx, item.RecordID)
		if err != nil || record == nil {
			return err
		}

		if remoteID != "" {
			record.RemoteID = remoteID
		}
		if record.UpdatedAt == item.Timestamp {
			record.SyncStatus = models.SyncStatusSynced
		}
		return recordRepo.Put(ctx, record)
	})
}

// pullAll fetches changes for every collection since its checkpoint and
// returns how many local changes were applied.
func (e *Engine) pullAll(ctx context.Context, result *models.SyncResult) (int, error) {
	ctx, span := observability.StartSpan(ctx, "syncer.pull")
	defer span.End()

	applied := 0
	for _, collection := range models.Collections {
		n, err := e.pullCollection(ctx, collection, result)
		applied += n
		if err != nil {
			if remote.IsAuth(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				observability.RecordError(span, err)
				return applied, err
			}
			// Transient failure on one collection must not starve the rest.
			e.logger.WithContext(ctx).WithField("collection", collection).
				Warnf("pull failed, keeping checkpoint: %v", err)
			continue
		}
	}
	observability.SetSuccess(span)
	return applied, nil
}

func (e *Engine) pullCollection(ctx context.Context, collection string, result *models.SyncResult) (int, error) {
	metaRepo := store.NewMetaRepository(e.store.DB())
	since, err := metaRepo.LastSyncAt(ctx, collection)
	if err != nil {
		return 0, err
	}

	resp, err := e.remote.Pull(ctx, collection, since)
	if err != nil {
		return 0, err
	}

	applied := 0
	maxSeen := int64(0)
	for i := range resp.Records {
		record := &resp.Records[i]
		if ts := record.UpdatedAt; ts > maxSeen {
			maxSeen = ts
		}
		changed, err := e.crud.UpsertFromServer(ctx, collection, record)
		if err != nil {
			return applied, err
		}
		if changed {
			applied++
			result.Pulled++
		}
	}

	for _, id := range resp.DeletedIDs {
		deleted, err := e.crud.SilentDelete(ctx, collection, id)
		if err != nil {
			return applied, err
		}
		if deleted {
			applied++
			result.Pulled++
		}
	}

	// The checkpoint advances only after the whole batch applied, so an
	// interrupted pull re-fetches the same window instead of skipping it.
	checkpoint := maxSeen
	if len(resp.Records) == 0 {
		checkpoint = resp.ServerTime
	}
	if checkpoint > since {
		if err := metaRepo.SetLastSyncAt(ctx, collection, checkpoint); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

// Status reports the sync subsystem's current state for the UI contract
func (e *Engine) Status(ctx context.Context) (*models.SyncStatusResponse, error) {
	metaRepo := store.NewMetaRepository(e.store.DB())
	queueRepo := store.NewQueueRepository(e.store.DB())

	checkpoints, err := metaRepo.All(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := queueRepo.CountPending(ctx)
	if err != nil {
		return nil, err
	}
	stuck, err := queueRepo.CountStuck(ctx)
	if err != nil {
		return nil, err
	}

	return &models.SyncStatusResponse{
		Status:     string(e.broadcaster.Status()),
		LastSyncAt: checkpoints,
		PendingOps: pending,
		StuckOps:   stuck,
	}, nil
}
