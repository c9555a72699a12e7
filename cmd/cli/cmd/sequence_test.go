package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sellerpilot/pkg/api"

	"github.com/spf13/viper"
)

func TestSequenceStart_Success(t *testing.T) {
	resetViper()

	var got api.StartSequenceRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sequences" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.SequenceResponse{ID: "seq-1", Status: "active", MaxSteps: 2})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	output := runCLI(t, "sequence", "start",
		"--tenant", "tenant-1",
		"--conversation", "conv-1",
		"--type", "review_request",
		"--message", "How was the delivery?",
		"--message", "Would you leave a review?",
	)

	if got.ConversationID != "conv-1" || got.Type != "review_request" {
		t.Errorf("unexpected request body: %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[1] != "Would you leave a review?" {
		t.Errorf("expected messages in order, got: %v", got.Messages)
	}
	if !strings.Contains(output, "Sequence started") || !strings.Contains(output, "seq-1") {
		t.Errorf("expected success message, got: %s", output)
	}
}

func TestSequenceStart_RequiresMessage(t *testing.T) {
	resetViper()

	viper.Set("token", "test-token")

	output := runCLI(t, "sequence", "start", "--tenant", "tenant-1", "--conversation", "conv-1")
	if !strings.Contains(output, "at least one --message is required") {
		t.Errorf("expected validation message, got: %s", output)
	}
}

func TestSequenceStart_Conflict(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Conversation already has an active sequence", Code: "409"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	output := runCLI(t, "seq", "start", "--tenant", "tenant-1", "--conversation", "conv-1", "--message", "hi")
	if !strings.Contains(output, "API error (409)") {
		t.Errorf("expected conflict error, got: %s", output)
	}
}

func TestSequenceStatus_Success(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sequences/seq-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		reason := "peer_replied"
		json.NewEncoder(w).Encode(api.SequenceResponse{
			ID:             "seq-1",
			ConversationID: "conv-1",
			Type:           "no_reply_nudge",
			CurrentStep:    1,
			MaxSteps:       3,
			Status:         "stopped",
			StopReason:     &reason,
			StartedAt:      time.Now().Add(-3 * 24 * time.Hour),
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	output := runCLI(t, "sequence", "status", "seq-1")

	for _, want := range []string{"Sequence Details", "conv-1", "stopped", "peer_replied", "1/3", "3 days ago"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestSequenceCancel(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     interface{}
		expected string
	}{
		{
			name:     "Cancelled",
			status:   http.StatusOK,
			body:     api.SequenceResponse{ID: "seq-1", Status: "stopped", CurrentStep: 1, MaxSteps: 3},
			expected: "Sequence seq-1 cancelled at step 1/3",
		},
		{
			name:     "Not Active",
			status:   http.StatusConflict,
			body:     api.ErrorResponse{Error: "Sequence is not active", Details: "sequencer: sequence is not active"},
			expected: "API error (409): Sequence is not active: sequencer: sequence is not active",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/sequences/seq-1/cancel" {
					t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
				}
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(tt.body)
			}))
			defer server.Close()

			viper.Set("url", server.URL)
			viper.Set("token", "test-token")

			output := runCLI(t, "sequence", "cancel", "seq-1")
			if !strings.Contains(output, tt.expected) {
				t.Errorf("expected %q in output, got: %s", tt.expected, output)
			}
		})
	}
}
