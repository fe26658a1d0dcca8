package api

import (
	"net/http"

	"gateway/internal/engine"
	"gateway/internal/health"
	"gateway/internal/monitor"
	"gateway/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Engine        *engine.Engine
	PushMonitor   *monitor.PushMonitor
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Engine, cfg.HealthChecker, cfg.PushMonitor)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Process endpoints - auth required
	authMiddleware := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/processes", authMiddleware(http.HandlerFunc(handler.LaunchProcess)))
	mux.Handle("GET /v1/processes", authMiddleware(http.HandlerFunc(handler.ListProcesses)))
	mux.Handle("GET /v1/processes/{processId}", authMiddleware(http.HandlerFunc(handler.GetProcess)))
	mux.Handle("GET /v1/processes/{processId}/history", authMiddleware(http.HandlerFunc(handler.GetProcessHistory)))
	mux.Handle("DELETE /v1/processes/{processId}", authMiddleware(http.HandlerFunc(handler.CancelProcess)))

	// Push-mode job status notifications - auth required
	mux.Handle("POST /v1/notifications", authMiddleware(http.HandlerFunc(handler.JobNotification)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
