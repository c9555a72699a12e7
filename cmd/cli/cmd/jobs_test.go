package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sellerpilot/pkg/api"

	"github.com/spf13/viper"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs(args)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return stdout.String()
}

func TestJobsList_Success(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET method, got %s", r.Method)
		}
		if r.URL.Path != "/jobs" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("expected Bearer token, got: %s", r.Header.Get("Authorization"))
		}

		start := time.Date(2024, 6, 12, 9, 0, 0, 0, time.UTC)
		finish := start.Add(90 * time.Second)
		json.NewEncoder(w).Encode(api.ListJobsResponse{Jobs: []api.JobStatusResponse{
			{Name: "review_sync", Trigger: "cron", Schedule: "0 * * * *", LastStart: &start, LastFinish: &finish, Runs: 4},
			{Name: "dialogue_sync", Trigger: "adaptive", Running: true, Skips: 2, LastError: "marketplace: 503"},
		}})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	output := runCLI(t, "jobs", "list")

	for _, want := range []string{"JOB", "review_sync", "cron (0 * * * *)", "1m 30s", "dialogue_sync", "running", "marketplace: 503"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestJobsList_Empty(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.ListJobsResponse{Jobs: []api.JobStatusResponse{}})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	output := runCLI(t, "jobs", "list")
	if !strings.Contains(output, "No jobs registered") {
		t.Errorf("expected empty message, got: %s", output)
	}
}

func TestJobsList_MissingToken(t *testing.T) {
	resetViper()

	viper.Set("url", "http://localhost:6262")
	viper.Set("token", "")

	output := runCLI(t, "jobs", "list")
	if !strings.Contains(output, "Admin token not found") {
		t.Errorf("expected token error message, got: %s", output)
	}
}

func TestJobsRun_Started(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if r.URL.Path != "/jobs/review_sync/run" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(api.RunJobResponse{Job: "review_sync", Status: "started"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	output := runCLI(t, "jobs", "run", "review_sync")
	if !strings.Contains(output, "Job review_sync started") {
		t.Errorf("expected started message, got: %s", output)
	}
}

func TestJobsRun_AlreadyRunning(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Job is already running", Code: "409"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	output := runCLI(t, "jobs", "run", "review_sync")
	if !strings.Contains(output, "review_sync is already running") {
		t.Errorf("expected already running message, got: %s", output)
	}
}

func TestJobsRun_NotFound(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Job not found", Code: "404"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	output := runCLI(t, "jobs", "run", "nope")
	if !strings.Contains(output, "API error (404): Job not found") {
		t.Errorf("expected not found error, got: %s", output)
	}
}
