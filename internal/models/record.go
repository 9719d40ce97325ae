package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SyncStatus tracks whether a local record has been acknowledged by the remote
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusError   SyncStatus = "error"
)

// Known collections. Each collection is backed by its own local table.
const (
	CollectionFlights   = "flights"
	CollectionAircraft  = "aircraft"
	CollectionPersonnel = "personnel"
)

// Collections lists every syncable collection in the order sync passes visit them
var Collections = []string{CollectionFlights, CollectionAircraft, CollectionPersonnel}

// IsKnownCollection reports whether name is a registered syncable collection
func IsKnownCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}

// Record is the syncable envelope shared by flights, aircraft and personnel.
// Domain fields live in Payload and are opaque to the sync core; the conflict
// resolver only inspects CreatedAt/UpdatedAt.
type Record struct {
	ID         string          `json:"id"`
	RemoteID   string          `json:"remoteId,omitempty"`
	CreatedAt  int64           `json:"createdAt"` // ms since epoch
	UpdatedAt  int64           `json:"updatedAt"` // ms since epoch, rewritten on every local mutation
	SyncStatus SyncStatus      `json:"syncStatus"`
	Payload    json.RawMessage `json:"payload"`
}

// NewRecord creates a pending Record with a fresh local id
func NewRecord(payload json.RawMessage, nowMillis int64) (*Record, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	return &Record{
		ID:         uuid.New().String(),
		CreatedAt:  nowMillis,
		UpdatedAt:  nowMillis,
		SyncStatus: SyncStatusPending,
		Payload:    payload,
	}, nil
}

// EffectiveTimestamp returns the timestamp used by last-write-wins comparison
func (r *Record) EffectiveTimestamp() int64 {
	if r.CreatedAt > r.UpdatedAt {
		return r.CreatedAt
	}
	return r.UpdatedAt
}

// MergePayload overlays the fields of partial onto the record's payload.
// Only top-level fields are merged; nested objects are replaced wholesale.
func (r *Record) MergePayload(partial json.RawMessage) error {
	if len(partial) == 0 {
		return nil
	}
	var base map[string]interface{}
	if err := json.Unmarshal(r.Payload, &base); err != nil {
		return err
	}
	var overlay map[string]interface{}
	if err := json.Unmarshal(partial, &overlay); err != nil {
		return err
	}
	for k, v := range overlay {
		base[k] = v
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return err
	}
	r.Payload = merged
	return nil
}

// NowMillis returns the current wall clock in ms since epoch
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Errors
type RecordError struct {
	Message string
}

func (e RecordError) Error() string {
	return e.Message
}

var (
	ErrEmptyPayload      = RecordError{"record payload cannot be empty"}
	ErrUnknownCollection = RecordError{"unknown collection"}
	ErrEmptyRecordID     = RecordError{"record id cannot be empty"}
)

// ValidateCollection returns ErrUnknownCollection for anything but an exact
// registered name. Collection names reach the store as SQL table names and
// are drained by the engine under the canonical spelling, so padded or
// aliased forms must be rejected here rather than normalized downstream.
func ValidateCollection(name string) error {
	if !IsKnownCollection(name) {
		return ErrUnknownCollection
	}
	return nil
}
