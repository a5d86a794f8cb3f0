package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ekwalla/valor/internal/contracts"
	"github.com/ekwalla/valor/internal/exposure"
	"github.com/ekwalla/valor/internal/run"
	"github.com/ekwalla/valor/pkg/logger"
)

// RunHandler handles valuation run API endpoints.
type RunHandler struct {
	manager   *run.Manager
	runs      contracts.RunStore
	exposures contracts.ExposureStore
	logger    *logger.Logger
}

// NewRunHandler creates a new run handler.
func NewRunHandler(manager *run.Manager, runs contracts.RunStore, exposures contracts.ExposureStore, log *logger.Logger) *RunHandler {
	return &RunHandler{
		manager:   manager,
		runs:      runs,
		exposures: exposures,
		logger:    log,
	}
}

// orgFromRequest reads the organization scope from the X-Org-ID header.
func orgFromRequest(r *http.Request) (contracts.OrgID, bool) {
	raw := r.Header.Get("X-Org-ID")
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return contracts.OrgID(id), true
}

func runIDFromRequest(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

// List returns the runs for a portfolio and date.
// GET /api/runs?portfolio_id=7&date=2026-03-31
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Missing or invalid X-Org-ID header")
		return
	}

	portfolioID, err := strconv.ParseInt(r.URL.Query().Get("portfolio_id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid portfolio_id")
		return
	}
	date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD")
		return
	}

	runs, err := h.runs.ListRuns(r.Context(), org, portfolioID, date)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list runs")
		respondError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	respondJSON(w, http.StatusOK, runs)
}

// CreateRunRequest is the payload for creating a run.
type CreateRunRequest struct {
	PortfolioID  int64  `json:"portfolio_id"`
	AsOfDate     string `json:"as_of_date"`
	Policy       string `json:"policy"`
	RunContextID string `json:"run_context_id,omitempty"`
	CreatedBy    string `json:"created_by"`
}

// Create registers a new PENDING run.
// POST /api/runs
func (h *RunHandler) Create(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Missing or invalid X-Org-ID header")
		return
	}

	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	asOfDate, err := time.Parse("2006-01-02", req.AsOfDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid as_of_date, expected YYYY-MM-DD")
		return
	}

	created, err := h.manager.CreateRun(r.Context(), org, req.PortfolioID, asOfDate,
		contracts.ValuationPolicy(req.Policy), req.RunContextID, req.CreatedBy)
	if err != nil {
		var dup *contracts.DuplicateRunError
		if errors.As(err, &dup) {
			respondJSON(w, http.StatusConflict, map[string]string{
				"error":       "Run with identical inputs already exists",
				"fingerprint": dup.Fingerprint,
			})
			return
		}
		var iv *contracts.InvariantViolation
		if errors.As(err, &iv) {
			respondError(w, http.StatusBadRequest, iv.Error())
			return
		}
		h.logger.WithError(err).Error("Failed to create run")
		respondError(w, http.StatusInternalServerError, "Failed to create run")
		return
	}

	respondJSON(w, http.StatusCreated, created)
}

// Get returns one run with its execution log.
// GET /api/runs/{id}
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Missing or invalid X-Org-ID header")
		return
	}
	id, err := runIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid run id")
		return
	}

	found, err := h.runs.GetRun(r.Context(), org, id)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get run")
		respondError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}
	if found == nil {
		respondError(w, http.StatusNotFound, "Run not found")
		return
	}

	respondJSON(w, http.StatusOK, found)
}

// Execute drives a PENDING run to completion.
// POST /api/runs/{id}/execute
func (h *RunHandler) Execute(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Missing or invalid X-Org-ID header")
		return
	}
	id, err := runIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid run id")
		return
	}

	executed, err := h.manager.Execute(r.Context(), org, id)
	if err != nil {
		var iv *contracts.InvariantViolation
		if errors.As(err, &iv) {
			respondError(w, http.StatusConflict, iv.Error())
			return
		}
		if executed != nil {
			// The run failed but its state and diagnostics are persisted.
			respondJSON(w, http.StatusUnprocessableEntity, executed)
			return
		}
		h.logger.WithError(err).Error("Failed to execute run")
		respondError(w, http.StatusInternalServerError, "Failed to execute run")
		return
	}

	respondJSON(w, http.StatusOK, executed)
}

// Results returns the per-position results of a run.
// GET /api/runs/{id}/results
func (h *RunHandler) Results(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Missing or invalid X-Org-ID header")
		return
	}
	id, err := runIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid run id")
		return
	}

	results, err := h.runs.ListResults(r.Context(), org, id)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list results")
		respondError(w, http.StatusInternalServerError, "Failed to list results")
		return
	}

	respondJSON(w, http.StatusOK, results)
}

// Exposures returns the persisted breakdowns of a run, optionally reduced to
// the top-N concentrations of one dimension.
// GET /api/runs/{id}/exposures?dimension=issuer&top=10
func (h *RunHandler) Exposures(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Missing or invalid X-Org-ID header")
		return
	}
	id, err := runIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid run id")
		return
	}

	exposures, err := h.exposures.ListExposures(r.Context(), org, id)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list exposures")
		respondError(w, http.StatusInternalServerError, "Failed to list exposures")
		return
	}

	if dim := r.URL.Query().Get("dimension"); dim != "" {
		top := 10
		if raw := r.URL.Query().Get("top"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				respondError(w, http.StatusBadRequest, "Invalid top")
				return
			}
			top = parsed
		}
		respondJSON(w, http.StatusOK, exposure.TopConcentrations(exposures, contracts.Dimension(dim), top))
		return
	}

	respondJSON(w, http.StatusOK, exposures)
}

// OfficialRequest carries actor and reason for official-run changes.
type OfficialRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

// MarkOfficial designates the run as official for its portfolio and date.
// POST /api/runs/{id}/official
func (h *RunHandler) MarkOfficial(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Missing or invalid X-Org-ID header")
		return
	}
	id, err := runIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid run id")
		return
	}

	var req OfficialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	demoted, err := h.manager.MarkOfficial(r.Context(), org, id, req.Actor, req.Reason)
	if err != nil {
		var iv *contracts.InvariantViolation
		if errors.As(err, &iv) {
			respondError(w, http.StatusConflict, iv.Error())
			return
		}
		h.logger.WithError(err).Error("Failed to mark run official")
		respondError(w, http.StatusInternalServerError, "Failed to mark run official")
		return
	}

	resp := map[string]interface{}{"status": "official"}
	if demoted != nil {
		resp["demoted_run_id"] = demoted.ID.String()
	}
	respondJSON(w, http.StatusOK, resp)
}

// UnmarkOfficial removes the official designation from the run.
// DELETE /api/runs/{id}/official
func (h *RunHandler) UnmarkOfficial(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Missing or invalid X-Org-ID header")
		return
	}
	id, err := runIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid run id")
		return
	}

	var req OfficialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.manager.UnmarkOfficial(r.Context(), org, id, req.Actor, req.Reason); err != nil {
		h.logger.WithError(err).Error("Failed to unmark run official")
		respondError(w, http.StatusInternalServerError, "Failed to unmark run official")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "not_official"})
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
