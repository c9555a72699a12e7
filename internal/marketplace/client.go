// Package marketplace is the HTTP binding of the external collaborators:
// marketplace sync, messaging, artifact generation, spreadsheet export and
// the stale-state sweep.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("marketplace: not found")
	ErrValidation = errors.New("marketplace: validation failed")
)

// APIError is a non-2xx response from the marketplace gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketplace API error (%d): %s", e.StatusCode, e.Message)
}

// Permanent reports whether retrying the same request can never succeed.
func (e *APIError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrValidation
	}
	return nil
}

// SyncMode selects what a tenant sync refreshes.
type SyncMode string

const (
	SyncReviews   SyncMode = "reviews"
	SyncProducts  SyncMode = "products"
	SyncDialogues SyncMode = "dialogues"
)

// DateRange bounds a sync. A zero range means "since the last sync".
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type SyncResult struct {
	Fetched int `json:"fetched"`
	Updated int `json:"updated"`
}

type Artifact struct {
	ID       string `json:"id"`
	TargetID string `json:"target_id"`
	Text     string `json:"text"`
}

type ExportResult struct {
	Rows int `json:"rows"`
}

type SweepResult struct {
	Transitioned int `json:"transitioned"`
}

// Client talks to the marketplace gateway.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a client. Sync calls may take minutes, so the HTTP timeout
// is generous; callers bound individual calls with their context.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Minute,
		},
	}
}

// SyncTenant triggers one tenant's data refresh.
func (c *Client) SyncTenant(ctx context.Context, tenantID uuid.UUID, mode SyncMode, r DateRange) (SyncResult, error) {
	body := struct {
		Mode SyncMode `json:"mode"`
		DateRange
	}{Mode: mode, DateRange: r}

	var res SyncResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/tenants/%s/sync", tenantID), body, &res)
	return res, err
}

// SendMessage sends one outbound message into a conversation.
func (c *Client) SendMessage(ctx context.Context, tenantID uuid.UUID, conversationID, text string) error {
	path := fmt.Sprintf("/tenants/%s/conversations/%s/messages", tenantID, url.PathEscape(conversationID))
	return c.do(ctx, http.MethodPost, path, map[string]string{"text": text}, nil)
}

// CloseConversation marks a conversation closed on the marketplace side.
func (c *Client) CloseConversation(ctx context.Context, tenantID uuid.UUID, conversationID string) error {
	path := fmt.Sprintf("/tenants/%s/conversations/%s/close", tenantID, url.PathEscape(conversationID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// GenerateArtifact produces one AI-assisted artifact for a target item.
func (c *Client) GenerateArtifact(ctx context.Context, tenantID uuid.UUID, targetID string) (Artifact, error) {
	var a Artifact
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/tenants/%s/artifacts", tenantID),
		map[string]string{"target_id": targetID}, &a)
	return a, err
}

// ListBackfillTargets returns up to limit items that still lack an artifact.
func (c *Client) ListBackfillTargets(ctx context.Context, tenantID uuid.UUID, limit int) ([]string, error) {
	var res struct {
		Targets []string `json:"targets"`
	}
	path := fmt.Sprintf("/tenants/%s/backfill-targets?limit=%s", tenantID, strconv.Itoa(limit))
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Targets, nil
}

// ExportTenant writes the tenant's state to its spreadsheet.
func (c *Client) ExportTenant(ctx context.Context, tenantID uuid.UUID) (ExportResult, error) {
	var res ExportResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/tenants/%s/export", tenantID), nil, &res)
	return res, err
}

// SweepStale moves the tenant's stale items to their next state.
func (c *Client) SweepStale(ctx context.Context, tenantID uuid.UUID) (SweepResult, error) {
	var res SweepResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/tenants/%s/sweep", tenantID), nil, &res)
	return res, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.Token != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	}
	if in != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(respBody))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
