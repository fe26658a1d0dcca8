package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gateway/internal/apperrors"
	"gateway/internal/process"
)

func TestHTTPSubmitter_Submit(t *testing.T) {
	t.Parallel()

	var received submitPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("Failed to decode payload: %v", err)
		}
		json.NewEncoder(w).Encode(submitResult{JobID: "5055468"})
	}))
	t.Cleanup(server.Close)

	submitter := NewHTTPSubmitter(server.URL, 5*time.Second)
	p := process.New("exp-1", "task-1")

	record, err := submitter.Submit(context.Background(), p, validRequest())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if record.JobID != "5055468" {
		t.Errorf("Expected job id 5055468, got %s", record.JobID)
	}
	if record.JobName != "A433255759" {
		t.Errorf("Expected job name from request, got %s", record.JobName)
	}
	if received.ProcessID != p.ID {
		t.Errorf("Expected process id %s in payload, got %s", p.ID, received.ProcessID)
	}
	if received.Family != "slurm" {
		t.Errorf("Expected family slurm in payload, got %s", received.Family)
	}
}

func TestHTTPSubmitter_ServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "scheduler rejected the script", http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	submitter := NewHTTPSubmitter(server.URL, 5*time.Second)

	_, err := submitter.Submit(context.Background(), process.New("exp-1", "task-1"), validRequest())
	if !errors.Is(err, apperrors.ErrResourceQuery) {
		t.Errorf("Expected ErrResourceQuery, got %v", err)
	}
}

func TestHTTPSubmitter_MissingJobID(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(submitResult{})
	}))
	t.Cleanup(server.Close)

	submitter := NewHTTPSubmitter(server.URL, 5*time.Second)

	_, err := submitter.Submit(context.Background(), process.New("exp-1", "task-1"), validRequest())
	if !errors.Is(err, apperrors.ErrResourceQuery) {
		t.Errorf("Expected ErrResourceQuery for empty job id, got %v", err)
	}
}

func TestHTTPSubmitter_Unreachable(t *testing.T) {
	t.Parallel()

	submitter := NewHTTPSubmitter("http://127.0.0.1:1/submit", time.Second)

	_, err := submitter.Submit(context.Background(), process.New("exp-1", "task-1"), validRequest())
	if !errors.Is(err, apperrors.ErrResourceQuery) {
		t.Errorf("Expected ErrResourceQuery, got %v", err)
	}
}
