package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ekwalla/valor/internal/canonical"
	"github.com/ekwalla/valor/internal/contracts"
	"github.com/ekwalla/valor/pkg/logger"
)

// CanonicalHandler handles canonical market data API endpoints.
type CanonicalHandler struct {
	engine *canonical.Engine
	store  contracts.CanonicalStore
	logger *logger.Logger
}

// NewCanonicalHandler creates a new canonical data handler.
func NewCanonicalHandler(engine *canonical.Engine, store contracts.CanonicalStore, log *logger.Logger) *CanonicalHandler {
	return &CanonicalHandler{
		engine: engine,
		store:  store,
		logger: log,
	}
}

// Get returns the canonical record for an entity and date.
// GET /api/canonical/{dataType}/{entityKey}?date=2026-03-31
func (h *CanonicalHandler) Get(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Missing or invalid X-Org-ID header")
		return
	}

	vars := mux.Vars(r)
	dataType := contracts.DataType(vars["dataType"])
	entityKey := vars["entityKey"]

	date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD")
		return
	}

	rec, err := h.store.Get(r.Context(), org, dataType, entityKey, date)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get canonical record")
		respondError(w, http.StatusInternalServerError, "Failed to get canonical record")
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "No canonical record")
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

// Canonicalize runs a batch pass for a data type and date.
// POST /api/canonical/{dataType}?date=2026-03-31&force=true
func (h *CanonicalHandler) Canonicalize(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Missing or invalid X-Org-ID header")
		return
	}

	dataType := contracts.DataType(mux.Vars(r)["dataType"])
	date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD")
		return
	}
	force := r.URL.Query().Get("force") == "true"

	summary, err := h.engine.CanonicalizeDay(r.Context(), org, dataType, date, canonical.Options{Force: force})
	if err != nil {
		var cfgErr *contracts.ConfigurationError
		if errors.As(err, &cfgErr) {
			respondError(w, http.StatusConflict, cfgErr.Error())
			return
		}
		h.logger.WithError(err).Error("Failed to canonicalize")
		respondError(w, http.StatusInternalServerError, "Failed to canonicalize")
		return
	}

	respondJSON(w, http.StatusOK, summary)
}
