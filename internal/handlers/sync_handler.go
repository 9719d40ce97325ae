package handlers

import (
	"net/http"

	"github.com/chinyang09/pilotlog/internal/observability"
	"github.com/chinyang09/pilotlog/internal/syncer"
)

// SyncHandler exposes manual sync control and status to UI collaborators
type SyncHandler struct {
	engine *syncer.Engine
	logger *observability.Logger
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(engine *syncer.Engine) *SyncHandler {
	return &SyncHandler{
		engine: engine,
		logger: observability.WithField("component", "sync"),
	}
}

// Trigger starts a full sync pass. A pass already in flight makes this a
// no-op; the caller's intent is covered by the running pass.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Sync(r.Context())
	if err == syncer.ErrSyncInProgress {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "in_progress"})
		return
	}
	if err != nil {
		h.logger.WithContext(r.Context()).Errorf("manual sync failed: %v", err)
		// Partial progress survives the failure; report both.
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":  err.Error(),
			"result": result,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Status reports queue depth, checkpoints and the broadcaster state
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status(r.Context())
	if err != nil {
		h.logger.WithContext(r.Context()).Errorf("status query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	writeJSON(w, http.StatusOK, status)
}
