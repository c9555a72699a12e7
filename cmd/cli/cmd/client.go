package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sellerpilot/pkg/api"
)

// AdminClient handles API calls to the scheduler's admin API.
type AdminClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewAdminClient creates a new client with the given base URL and token.
func NewAdminClient(baseURL, token string) *AdminClient {
	return &AdminClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// ListJobs sends GET /jobs.
func (c *AdminClient) ListJobs() ([]api.JobStatusResponse, error) {
	var result api.ListJobsResponse
	if err := c.do(http.MethodGet, "/jobs", nil, &result); err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

// RunJob sends POST /jobs/{name}/run.
func (c *AdminClient) RunJob(name string) (*api.RunJobResponse, error) {
	var result api.RunJobResponse
	if err := c.do(http.MethodPost, "/jobs/"+url.PathEscape(name)+"/run", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// EnqueueBackfill sends POST /backfill.
func (c *AdminClient) EnqueueBackfill(req api.EnqueueBackfillRequest) (*api.BackfillResponse, error) {
	var result api.BackfillResponse
	if err := c.do(http.MethodPost, "/backfill", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBackfill sends GET /backfill/{id}.
func (c *AdminClient) GetBackfill(id string) (*api.BackfillResponse, error) {
	var result api.BackfillResponse
	if err := c.do(http.MethodGet, "/backfill/"+url.PathEscape(id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StartSequence sends POST /sequences.
func (c *AdminClient) StartSequence(req api.StartSequenceRequest) (*api.SequenceResponse, error) {
	var result api.SequenceResponse
	if err := c.do(http.MethodPost, "/sequences", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetSequence sends GET /sequences/{id}.
func (c *AdminClient) GetSequence(id string) (*api.SequenceResponse, error) {
	var result api.SequenceResponse
	if err := c.do(http.MethodGet, "/sequences/"+url.PathEscape(id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelSequence sends POST /sequences/{id}/cancel.
func (c *AdminClient) CancelSequence(id string) (*api.SequenceResponse, error) {
	var result api.SequenceResponse
	if err := c.do(http.MethodPost, "/sequences/"+url.PathEscape(id)+"/cancel", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *AdminClient) do(method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		bodyBytes, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage prefers the API's JSON error over the raw body.
func errorMessage(body []byte) string {
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		if e.Details != "" {
			return e.Error + ": " + e.Details
		}
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
