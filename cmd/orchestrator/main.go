// orchestrator is the gateway server that launches and tracks computational
// jobs on remote compute resources.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gateway/internal/api"
	"gateway/internal/audit"
	"gateway/internal/config"
	"gateway/internal/coordination"
	"gateway/internal/dispatcher"
	"gateway/internal/engine"
	"gateway/internal/health"
	"gateway/internal/monitor"
	"gateway/internal/observability"
	"gateway/internal/process"
	"gateway/internal/resource"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	svcCfg := config.LoadServiceConfig()
	dispatcherCfg := dispatcher.LoadConfigFromEnv()

	if svcCfg.SubmitEndpoint == "" {
		return errors.New("SUBMIT_ENDPOINT is required")
	}

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Connect to the coordination service
	coordClient, err := coordination.NewEtcd(coordination.EtcdConfig{
		Endpoints: svcCfg.EtcdEndpoints,
	})
	if err != nil {
		return fmt.Errorf("connect to coordination service: %w", err)
	}
	defer coordClient.Close()
	paths := coordination.NewPaths(svcCfg.Namespace)

	slog.Info("Connected to coordination service", "endpoints", svcCfg.EtcdEndpoints, "namespace", svcCfg.Namespace)

	// Audit delivery through the dispatcher
	eventDispatcher := dispatcher.NewMemory(dispatcherCfg, metrics)
	auditSink := audit.NewSink(eventDispatcher, audit.Config{
		Endpoint:   svcCfg.AuditEndpoint,
		SigningKey: svcCfg.AuditSigningKey,
		Source:     "gateway/" + svcCfg.InstanceName,
	})
	if svcCfg.AuditEndpoint != "" {
		slog.Info("Audit delivery enabled", "endpoint", svcCfg.AuditEndpoint)
	}

	// Core state: registry, state machine, monitoring set, retry counters
	registry := process.NewRegistry()
	machine := process.NewMachine(process.MultiSink(auditSink, metrics.StatusSink()))
	records := monitor.NewRecordSet()
	retries := coordination.NewRetryTracker(coordClient, paths)

	submitter := engine.NewHTTPSubmitter(svcCfg.SubmitEndpoint, svcCfg.SubmitTimeout)
	eng := engine.New(registry, machine, coordClient, paths, records, retries,
		submitter, engine.Stages{}, svcCfg.InstanceName, metrics)

	engineCtx, engineCancel := context.WithCancel(ctx)
	defer engineCancel()
	eng.Start(engineCtx)

	// Job state changes flow through the audit tap into the engine
	publisher := audit.PublisherTap{Sink: auditSink, Next: eng}
	pull := monitor.NewPullMonitor(records, publisher, monitor.PullConfig{
		Interval:     svcCfg.PollInterval,
		QueryTimeout: svcCfg.QueryTimeout,
	}, metrics)
	push := monitor.NewPushMonitor(records, publisher)

	// Health checks: coordination service plus every resource connection
	healthChecker := health.NewChecker()
	healthChecker.AddCheck("coordination", health.ReadinessFunc(func(ctx context.Context) error {
		_, err := coordClient.Exists(ctx, paths.Root())
		return err
	}))

	connections, err := openResourceConnections(svcCfg)
	if err != nil {
		return err
	}
	for host, conn := range connections {
		pull.RegisterConnection(host, conn)
		healthChecker.AddCheck("resource:"+host, conn)
		defer conn.Close()
	}
	slog.Info("Resource connections established", "count", len(connections))

	go pull.Run(engineCtx)

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Engine:        eng,
		PushMonitor:   push,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY configured")
	}

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 1)

	// Start API server
	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port, "instance", svcCfg.InstanceName)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Start metrics server
	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	// Wait for load balancers to stop sending traffic
	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Stop driving processes. In-flight processes keep their
	// coordination nodes; the instance that picks them up after redelivery
	// resumes from the persisted state.
	slog.Info("Stopping engine")
	engineCancel()
	eng.Drain()

	// Phase 4: Drain audit dispatcher
	slog.Info("Draining audit dispatcher")
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	// Log final dispatcher stats
	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	slog.Info("Remote jobs keep running; monitoring resumes on restart or failover")
	slog.Info("Shutdown complete")
	return nil
}

// openResourceConnections dials every configured resource target with the
// shared SSH key. Targets look like slurm://gateway@login.cluster.org:22.
func openResourceConnections(cfg *config.ServiceConfig) (map[string]resource.Connection, error) {
	connections := make(map[string]resource.Connection)
	if len(cfg.ResourceTargets) == 0 {
		return connections, nil
	}

	var credential resource.Credential
	for _, raw := range cfg.ResourceTargets {
		// local:// is the development resource backed by the Docker daemon.
		if raw == "local://" || raw == "local" {
			conn, err := resource.NewLocal(cfg.QueryTimeout)
			if err != nil {
				return nil, fmt.Errorf("open local resource: %w", err)
			}
			connections["local"] = conn
			continue
		}

		if credential == nil {
			var err error
			credential, err = loadCredential(cfg)
			if err != nil {
				return nil, err
			}
		}

		target, err := parseResourceTarget(raw, cfg.QueryTimeout)
		if err != nil {
			return nil, err
		}
		conn, err := credential.Open(target)
		if err != nil {
			return nil, fmt.Errorf("open resource %s: %w", target.Host, err)
		}
		connections[target.Host] = conn
	}
	return connections, nil
}

// loadCredential builds the SSH credential shared by all remote targets:
// certificate-backed when RESOURCE_SSH_CERT_FILE is set, plain key otherwise.
func loadCredential(cfg *config.ServiceConfig) (resource.Credential, error) {
	if cfg.SSHKeyFile == "" {
		return nil, errors.New("RESOURCE_SSH_KEY_FILE is required when RESOURCE_TARGETS names remote resources")
	}
	keyPEM, err := os.ReadFile(cfg.SSHKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read SSH key: %w", err)
	}

	if cfg.SSHCertFile == "" {
		return resource.KeyCredential{PrivateKeyPEM: keyPEM}, nil
	}
	certPEM, err := os.ReadFile(cfg.SSHCertFile)
	if err != nil {
		return nil, fmt.Errorf("read SSH certificate: %w", err)
	}
	return resource.CertificateCredential{PrivateKeyPEM: keyPEM, CertificatePEM: certPEM}, nil
}

func parseResourceTarget(raw string, queryTimeout time.Duration) (resource.Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return resource.Target{}, fmt.Errorf("parse resource target %q: %w", raw, err)
	}
	if u.Host == "" || u.User == nil || u.User.Username() == "" {
		return resource.Target{}, fmt.Errorf("resource target %q needs the form family://user@host:port", raw)
	}

	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return resource.Target{}, fmt.Errorf("resource target %q has invalid port: %w", raw, err)
		}
	}

	family := resource.SchedulerFamily(u.Scheme)
	switch family {
	case resource.FamilyPBS, resource.FamilySlurm, resource.FamilyLSF, resource.FamilyUGE:
	default:
		return resource.Target{}, fmt.Errorf("resource target %q names unknown scheduler family %q", raw, u.Scheme)
	}

	return resource.Target{
		Host:         u.Hostname(),
		Port:         port,
		User:         u.User.Username(),
		Family:       family,
		QueryTimeout: queryTimeout,
	}, nil
}
