package observability

import (
	"context"
	"testing"

	"gateway/internal/process"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, handler, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	if metrics == nil {
		t.Fatal("Expected metrics to be non-nil")
	}

	if handler == nil {
		t.Fatal("Expected handler to be non-nil")
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// Should not panic
	metrics.RecordHTTPRequest(ctx, "GET", "/health", 200, 0.001)
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/processes", 202, 0.050)
	metrics.RecordHTTPRequest(ctx, "GET", "/v1/processes/abc123", 200, 0.010)
	metrics.RecordHTTPRequest(ctx, "GET", "/v1/processes/xyz789", 404, 0.005)
	metrics.RecordHTTPRequest(ctx, "DELETE", "/v1/processes/abc123", 202, 0.100)
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/processes", 500, 0.001)
}

func TestRecordProcessMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// Should not panic
	metrics.RecordProcessLaunched(ctx)
	metrics.RecordProcessFinished(ctx, "COMPLETED", 312.5)
	metrics.RecordCancellation(ctx)

	sink := metrics.StatusSink()
	sink.Append(process.Status{ProcessID: "proc-1", State: process.Executing})
}

func TestRecordMonitorMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// Should not panic
	metrics.RecordMonitorPoll(ctx, "cluster.example.org", 0.42)
	metrics.RecordMonitorUpdate(ctx, "ACTIVE")
	metrics.RecordMonitorError(ctx, "cluster.example.org")
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    string
		expected string
	}{
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/v1/processes", "/v1/processes"},
		{"/v1/processes/abc123", "/v1/processes/{processId}"},
		{"/v1/processes/xyz-789-def", "/v1/processes/{processId}"},
		{"/v1/processes/abc123/history", "/v1/processes/{processId}/history"},
		{"/other/path", "/other/path"},
	}

	for _, tt := range tests {
		result := normalizePath(tt.input)
		if result != tt.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
