package handlers

import (
	"errors"
	"net/http"

	"sellerpilot/internal/scheduler"
	"sellerpilot/pkg/api"
)

// ListJobs handles GET /jobs.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	statuses := h.jobs.Status()

	resp := api.ListJobsResponse{Jobs: make([]api.JobStatusResponse, 0, len(statuses))}
	for _, s := range statuses {
		resp.Jobs = append(resp.Jobs, api.JobStatusResponse{
			Name:       s.Name,
			Trigger:    s.Trigger,
			Schedule:   s.Schedule,
			Running:    s.Running,
			LastStart:  s.LastStart,
			LastFinish: s.LastFinish,
			LastError:  s.LastError,
			NextRun:    s.NextRun,
			Runs:       s.Runs,
			Skips:      s.Skips,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// RunJob handles POST /jobs/{name}/run.
// The job starts in the background; a job that is already running yields 409.
func (h *Handlers) RunJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	started, err := h.jobs.Trigger(name)
	if errors.Is(err, scheduler.ErrUnknownJob) {
		h.httpError(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.httpErrorDetails(w, "Failed to start job", http.StatusServiceUnavailable, err)
		return
	}
	if !started {
		h.httpError(w, "Job is already running", http.StatusConflict)
		return
	}

	h.respondJson(w, http.StatusAccepted, api.RunJobResponse{Job: name, Status: "started"})
}
