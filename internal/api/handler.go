// Package api provides the HTTP API handlers and routing for the orchestrator.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"gateway/internal/apperrors"
	"gateway/internal/engine"
	"gateway/internal/health"
	"gateway/internal/monitor"
	"gateway/internal/process"
	"gateway/internal/resource"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Handler contains HTTP handlers for the orchestration API
type Handler struct {
	engine *engine.Engine
	health *health.Checker
	push   *monitor.PushMonitor
}

// NewHandler creates a new API handler
func NewHandler(eng *engine.Engine, healthChecker *health.Checker, push *monitor.PushMonitor) *Handler {
	return &Handler{
		engine: eng,
		health: healthChecker,
		push:   push,
	}
}

// processView is the JSON representation of a process.
type processView struct {
	ProcessID    string    `json:"processId"`
	ExperimentID string    `json:"experimentId"`
	TaskID       string    `json:"taskId"`
	State        string    `json:"state"`
	LastJobState string    `json:"lastJobState"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func newProcessView(p *process.Process) processView {
	return processView{
		ProcessID:    p.ID,
		ExperimentID: p.ExperimentID,
		TaskID:       p.TaskID,
		State:        p.State().String(),
		LastJobState: p.LastJobState().String(),
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt(),
	}
}

// LaunchProcess handles POST /v1/processes
func (h *Handler) LaunchProcess(w http.ResponseWriter, r *http.Request) {
	// Limit request body size to prevent memory exhaustion
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req engine.LaunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	p, err := h.engine.Launch(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, newProcessView(p))
}

// ListProcesses handles GET /v1/processes
func (h *Handler) ListProcesses(w http.ResponseWriter, r *http.Request) {
	processes := h.engine.List()

	views := make([]processView, 0, len(processes))
	for _, p := range processes {
		views = append(views, newProcessView(p))
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"processes": views,
		"count":     len(views),
	})
}

// GetProcess handles GET /v1/processes/{processId}
func (h *Handler) GetProcess(w http.ResponseWriter, r *http.Request) {
	processID := r.PathValue("processId")
	if processID == "" {
		h.writeError(w, http.StatusBadRequest, "Process ID is required")
		return
	}

	p, err := h.engine.Status(processID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newProcessView(p))
}

// GetProcessHistory handles GET /v1/processes/{processId}/history
func (h *Handler) GetProcessHistory(w http.ResponseWriter, r *http.Request) {
	processID := r.PathValue("processId")
	if processID == "" {
		h.writeError(w, http.StatusBadRequest, "Process ID is required")
		return
	}

	p, err := h.engine.Status(processID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"processId": p.ID,
		"history":   p.History(),
	})
}

// CancelProcess handles DELETE /v1/processes/{processId}.
// Cancellation is asynchronous: the request is acknowledged once the signal
// is durably recorded, the process reaches CANCELED later.
func (h *Handler) CancelProcess(w http.ResponseWriter, r *http.Request) {
	processID := r.PathValue("processId")
	if processID == "" {
		h.writeError(w, http.StatusBadRequest, "Process ID is required")
		return
	}

	if err := h.engine.Cancel(r.Context(), processID); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// JobNotification handles POST /v1/notifications - push-mode job status
// signals (scheduler emails, AMQP bridge posts). The body is the raw
// notification text; unparseable payloads are acknowledged and dropped.
func (h *Handler) JobNotification(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var note struct {
		Family  string `json:"family"`
		Subject string `json:"subject"`
	}
	if err := json.NewDecoder(r.Body).Decode(&note); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if note.Subject == "" {
		h.writeError(w, http.StatusBadRequest, "Notification subject is required")
		return
	}

	h.push.HandleNotification(r.Context(), resource.SchedulerFamily(note.Family), note.Subject)
	w.WriteHeader(http.StatusAccepted)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 200 if the service is ready to accept traffic.
// Returns 503 if dependencies (coordination service, resource connections)
// are unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from the engine with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
