// Package handlers contains HTTP handlers for the admin API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"sellerpilot/internal/scheduler"
	"sellerpilot/internal/sequencer"
	"sellerpilot/internal/store"
	"sellerpilot/pkg/api"

	"github.com/google/uuid"
)

// Store combines the store operations the admin API needs.
type Store interface {
	Ping(ctx context.Context) error
	store.BackfillAdmin
}

// Jobs is the job registry as seen by the admin API.
type Jobs interface {
	Status() []scheduler.JobStatus
	Trigger(name string) (bool, error)
}

// Sequences covers the operator sequence actions.
type Sequences interface {
	Start(ctx context.Context, req sequencer.StartRequest) (*store.FollowUpSequence, error)
	Cancel(ctx context.Context, id uuid.UUID) (*store.FollowUpSequence, error)
	Get(ctx context.Context, id uuid.UUID) (*store.FollowUpSequence, error)
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store     Store
	jobs      Jobs
	sequences Sequences
}

// New creates a new Handlers instance.
func New(s Store, jobs Jobs, sequences Sequences) *Handlers {
	return &Handlers{store: s, jobs: jobs, sequences: sequences}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

func (h *Handlers) httpErrorDetails(w http.ResponseWriter, message string, code int, err error) {
	h.respondJson(w, code, api.ErrorResponse{
		Error:   message,
		Code:    strconv.Itoa(code),
		Details: err.Error(),
	})
}
