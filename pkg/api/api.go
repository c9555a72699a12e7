// Package api contains shared JSON request/response structs.
// This package is shared between storectl and the scheduler's admin API.
package api

import "time"

// JobStatusResponse describes one registered job.
type JobStatusResponse struct {
	Name       string     `json:"name"`
	Trigger    string     `json:"trigger"`
	Schedule   string     `json:"schedule"`
	Running    bool       `json:"running"`
	LastStart  *time.Time `json:"last_start,omitempty"`
	LastFinish *time.Time `json:"last_finish,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	Runs       int        `json:"runs"`
	Skips      int        `json:"skips"`
}

// ListJobsResponse is the response body of GET /jobs.
type ListJobsResponse struct {
	Jobs []JobStatusResponse `json:"jobs"`
}

// RunJobResponse is the response body after triggering a job.
type RunJobResponse struct {
	Job    string `json:"job"`
	Status string `json:"status"`
}

// EnqueueBackfillRequest is the request body for POST /backfill.
type EnqueueBackfillRequest struct {
	TenantID    string `json:"tenant_id"`
	TargetCount int    `json:"target_count"`
}

// BackfillResponse represents a backfill job in API responses.
type BackfillResponse struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	Status         string    `json:"status"`
	ProcessedCount int       `json:"processed_count"`
	TargetCount    int       `json:"target_count"`
	LastError      *string   `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StartSequenceRequest is the request body for POST /sequences.
type StartSequenceRequest struct {
	TenantID       string   `json:"tenant_id"`
	ConversationID string   `json:"conversation_id"`
	Type           string   `json:"type"`
	Messages       []string `json:"messages"`
	MaxSteps       int      `json:"max_steps,omitempty"`
}

// SequenceResponse represents a follow-up sequence in API responses.
type SequenceResponse struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	ConversationID string     `json:"conversation_id"`
	Type           string     `json:"type"`
	CurrentStep    int        `json:"current_step"`
	MaxSteps       int        `json:"max_steps"`
	Status         string     `json:"status"`
	StopReason     *string    `json:"stop_reason,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
