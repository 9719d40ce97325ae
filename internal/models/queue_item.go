package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Op is the kind of pending mutation a queue item carries
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// QueueStatus tracks a queue item's transmission lifecycle
type QueueStatus string

const (
	QueueStatusPending QueueStatus = "pending"
	// QueueStatusStuck marks items past the retry ceiling. They are kept for
	// inspection but never drained again.
	QueueStatusStuck QueueStatus = "stuck"
)

// QueueItem is one durable pending mutation awaiting transmission
type QueueItem struct {
	ID         string          `json:"id"`
	Op         Op              `json:"op"`
	Collection string          `json:"collection"`
	RecordID   string          `json:"recordId"`
	Data       json.RawMessage `json:"data"` // full record for create/update, {"id":...} for delete
	Timestamp  int64           `json:"timestamp"` // ms since epoch, enqueue time
	RetryCount int             `json:"retryCount"`
	Status     QueueStatus     `json:"status"`
}

// NewQueueItem creates a pending queue item with a fresh id
func NewQueueItem(op Op, collection, recordID string, data json.RawMessage, nowMillis int64) *QueueItem {
	return &QueueItem{
		ID:         uuid.New().String(),
		Op:         op,
		Collection: collection,
		RecordID:   recordID,
		Data:       data,
		Timestamp:  nowMillis,
		Status:     QueueStatusPending,
	}
}

// DeleteData is the payload carried by delete queue items
type DeleteData struct {
	ID string `json:"id"`
}
