package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"sellerpilot/internal/backfill"
	"sellerpilot/internal/store"
	"sellerpilot/pkg/api"

	"github.com/google/uuid"
)

// EnqueueBackfill handles POST /backfill.
func (h *Handlers) EnqueueBackfill(w http.ResponseWriter, r *http.Request) {
	var req api.EnqueueBackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		h.httpError(w, "Invalid tenant id", http.StatusBadRequest)
		return
	}

	job, err := backfill.Enqueue(r.Context(), h.store, tenantID, req.TargetCount)
	if errors.Is(err, backfill.ErrInvalidJob) {
		h.httpErrorDetails(w, "Invalid backfill request", http.StatusBadRequest, err)
		return
	}
	if err != nil {
		h.httpError(w, "Failed to enqueue backfill", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusCreated, backfillResponse(job))
}

// GetBackfill handles GET /backfill/{id}.
func (h *Handlers) GetBackfill(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid backfill id", http.StatusBadRequest)
		return
	}

	job, err := h.store.GetBackfill(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.httpError(w, "Backfill job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, backfillResponse(job))
}

func backfillResponse(job *store.BackfillJob) api.BackfillResponse {
	return api.BackfillResponse{
		ID:             job.ID.String(),
		TenantID:       job.TenantID.String(),
		Status:         string(job.Status),
		ProcessedCount: job.ProcessedCount,
		TargetCount:    job.TargetCount,
		LastError:      job.LastError,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
}
