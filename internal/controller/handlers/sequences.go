package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"sellerpilot/internal/sequencer"
	"sellerpilot/internal/store"
	"sellerpilot/pkg/api"

	"github.com/google/uuid"
)

// StartSequence handles POST /sequences.
func (h *Handlers) StartSequence(w http.ResponseWriter, r *http.Request) {
	var req api.StartSequenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		h.httpError(w, "Invalid tenant id", http.StatusBadRequest)
		return
	}

	seq, err := h.sequences.Start(r.Context(), sequencer.StartRequest{
		TenantID:       tenantID,
		ConversationID: req.ConversationID,
		Type:           store.SequenceType(req.Type),
		Messages:       req.Messages,
		MaxSteps:       req.MaxSteps,
	})
	switch {
	case errors.Is(err, sequencer.ErrInvalidSequence):
		h.httpErrorDetails(w, "Invalid sequence", http.StatusBadRequest, err)
		return
	case errors.Is(err, store.ErrActiveSequenceExists):
		h.httpError(w, "Conversation already has an active sequence", http.StatusConflict)
		return
	case err != nil:
		h.httpError(w, "Failed to start sequence", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusCreated, sequenceResponse(seq))
}

// GetSequence handles GET /sequences/{id}.
func (h *Handlers) GetSequence(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid sequence id", http.StatusBadRequest)
		return
	}

	seq, err := h.sequences.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.httpError(w, "Sequence not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, sequenceResponse(seq))
}

// CancelSequence handles POST /sequences/{id}/cancel.
func (h *Handlers) CancelSequence(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid sequence id", http.StatusBadRequest)
		return
	}

	seq, err := h.sequences.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.httpError(w, "Sequence not found", http.StatusNotFound)
		return
	case errors.Is(err, sequencer.ErrNotActive):
		h.httpErrorDetails(w, "Sequence is not active", http.StatusConflict, err)
		return
	case err != nil:
		h.httpError(w, "Failed to cancel sequence", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, sequenceResponse(seq))
}

func sequenceResponse(seq *store.FollowUpSequence) api.SequenceResponse {
	resp := api.SequenceResponse{
		ID:             seq.ID.String(),
		TenantID:       seq.TenantID.String(),
		ConversationID: seq.ConversationID,
		Type:           string(seq.SequenceType),
		CurrentStep:    seq.CurrentStep,
		MaxSteps:       seq.MaxSteps,
		Status:         string(seq.Status),
		StartedAt:      seq.StartedAt,
		NextRunAt:      seq.NextRunAt,
	}
	if seq.StopReason != nil {
		reason := string(*seq.StopReason)
		resp.StopReason = &reason
	}
	return resp
}
