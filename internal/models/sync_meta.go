package models

// SyncMeta holds the incremental pull checkpoint for one collection
type SyncMeta struct {
	Collection string `json:"collection"`
	LastSyncAt int64  `json:"lastSyncAt"` // ms since epoch; 0 means never synced
}
