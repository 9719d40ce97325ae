package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chinyang09/pilotlog/internal/crud"
	"github.com/chinyang09/pilotlog/internal/models"
	"github.com/chinyang09/pilotlog/internal/observability"
)

// RecordHandler serves the local CRUD contract for UI collaborators
type RecordHandler struct {
	crud   *crud.Service
	logger *observability.Logger
}

// NewRecordHandler creates a new RecordHandler
func NewRecordHandler(crudSvc *crud.Service) *RecordHandler {
	return &RecordHandler{
		crud:   crudSvc,
		logger: observability.WithField("component", "records"),
	}
}

// List returns every record in a collection
func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	records, err := h.crud.GetAll(r.Context(), collection)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if records == nil {
		records = []*models.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Get returns one record by id
func (h *RecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	record, err := h.crud.Get(r.Context(), collection, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// Create inserts a new record from the request body payload
func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	payload, err := readPayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	record, err := h.crud.Create(r.Context(), collection, payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// Update merges a partial payload into an existing record
func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	payload, err := readPayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	record, err := h.crud.Update(r.Context(), collection, chi.URLParam(r, "id"), payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// Delete removes a record
func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	deleted, err := h.crud.Delete(r.Context(), collection, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RecordHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch err {
	case models.ErrUnknownCollection:
		writeError(w, http.StatusNotFound, "unknown collection")
	case models.ErrEmptyPayload:
		writeError(w, http.StatusBadRequest, "payload must not be empty")
	default:
		h.logger.WithContext(r.Context()).Errorf("record request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "storage failure")
	}
}

func readPayload(r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, models.ErrEmptyPayload
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}
