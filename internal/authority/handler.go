package authority

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chinyang09/pilotlog/internal/models"
	"github.com/chinyang09/pilotlog/internal/observability"
)

// Handler serves the sync contract over HTTP
type Handler struct {
	store  RecordStore
	logger *observability.Logger
}

// NewHandler creates a new Handler
func NewHandler(store RecordStore) *Handler {
	return &Handler{
		store:  store,
		logger: observability.WithField("component", "authority"),
	}
}

// Push accepts one queued operation from a collaborator
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if !models.IsKnownCollection(collection) {
		writeError(w, http.StatusNotFound, "unknown collection")
		return
	}

	var req models.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed push request")
		return
	}
	if req.RecordID == "" {
		writeError(w, http.StatusBadRequest, "recordId is required")
		return
	}

	log := h.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
		"collection": collection,
		"op":         string(req.Op),
		"record_id":  req.RecordID,
	})

	switch req.Op {
	case models.OpCreate, models.OpUpdate:
		remoteID, err := h.store.Upsert(r.Context(), collection, &Record{
			ClientID:  req.RecordID,
			CreatedAt: req.CreatedAt,
			UpdatedAt: req.UpdatedAt,
			Payload:   req.Data,
		})
		if err != nil {
			log.Errorf("upsert failed: %v", err)
			writeError(w, http.StatusInternalServerError, "storage failure")
			return
		}
		writeJSON(w, http.StatusOK, models.PushResponse{RemoteID: remoteID})

	case models.OpDelete:
		id := req.RecordID
		if req.RemoteID != "" {
			id = req.RemoteID
		}
		if err := h.store.Delete(r.Context(), collection, id, time.Now().UnixMilli()); err != nil {
			log.Errorf("delete failed: %v", err)
			writeError(w, http.StatusInternalServerError, "storage failure")
			return
		}
		writeJSON(w, http.StatusOK, models.PushResponse{})

	default:
		writeError(w, http.StatusBadRequest, "unknown operation")
	}
}

// Pull returns records changed since the caller's checkpoint plus tombstones
func (h *Handler) Pull(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if !models.IsKnownCollection(collection) {
		writeError(w, http.StatusNotFound, "unknown collection")
		return
	}

	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}
		since = parsed
	}

	records, err := h.store.ChangedSince(r.Context(), collection, since)
	if err != nil {
		h.logger.WithContext(r.Context()).Errorf("pull query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	deleted, err := h.store.DeletedSince(r.Context(), collection, since)
	if err != nil {
		h.logger.WithContext(r.Context()).Errorf("tombstone query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	resp := models.PullResponse{
		Records:    make([]models.RemoteRecord, 0, len(records)),
		DeletedIDs: deleted,
		ServerTime: time.Now().UnixMilli(),
	}
	for _, rec := range records {
		resp.Records = append(resp.Records, models.RemoteRecord{
			ID:        rec.ClientID,
			RemoteID:  rec.RemoteID,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
			Payload:   rec.Payload,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health reports liveness; collaborators also use it as a reachability probe
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}
