package models

import "encoding/json"

// PushRequest for POST /api/sync/{collection}/push
type PushRequest struct {
	Op       Op              `json:"op"`
	RecordID string          `json:"recordId"` // local id, doubles as idempotency key
	RemoteID string          `json:"remoteId,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	// CreatedAt/UpdatedAt travel alongside the opaque payload so the
	// authority can answer incremental pulls without parsing Data.
	CreatedAt int64 `json:"createdAt,omitempty"`
	UpdatedAt int64 `json:"updatedAt,omitempty"`
}

// PushResponse for POST /api/sync/{collection}/push
type PushResponse struct {
	RemoteID string `json:"remoteId"`
}

// PullResponse for GET /api/sync/{collection}/pull
type PullResponse struct {
	Records    []RemoteRecord `json:"records"`
	DeletedIDs []string       `json:"deletedIds"`
	ServerTime int64          `json:"serverTime"` // ms since epoch
}

// RemoteRecord is a record as the authority stores it
type RemoteRecord struct {
	ID        string          `json:"id"` // the client-assigned id
	RemoteID  string          `json:"remoteId"`
	CreatedAt int64           `json:"createdAt"`
	UpdatedAt int64           `json:"updatedAt"`
	Payload   json.RawMessage `json:"payload"`
}

// EffectiveTimestamp returns the timestamp used by last-write-wins comparison
func (r *RemoteRecord) EffectiveTimestamp() int64 {
	if r.CreatedAt > r.UpdatedAt {
		return r.CreatedAt
	}
	return r.UpdatedAt
}

// SyncResult summarizes one completed sync pass
type SyncResult struct {
	Pushed int `json:"pushed"`
	Pulled int `json:"pulled"`
	Failed int `json:"failed"`
}

// SyncStatusResponse for GET /api/sync/status on the daemon
type SyncStatusResponse struct {
	Status     string           `json:"status"` // online | offline | syncing
	LastSyncAt map[string]int64 `json:"lastSyncAt"`
	PendingOps int              `json:"pendingOps"`
	StuckOps   int              `json:"stuckOps"`
}

// ErrorResponse is the generic error body
type ErrorResponse struct {
	Error string `json:"error"`
}
