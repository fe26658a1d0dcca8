package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"gateway/internal/process"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests, processes and polls take
// - Traffic: Request/process/event throughput
// - Errors: Rate of failures
// - Saturation: Concurrent processes and queue depths
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Process lifecycle metrics (Latency, Traffic, Errors, Saturation)
	ProcessDuration         metric.Float64Histogram
	ProcessesTotal          metric.Int64Counter
	ProcessTransitionsTotal metric.Int64Counter
	ProcessesActive         metric.Int64UpDownCounter
	CancellationsTotal      metric.Int64Counter

	// Monitor metrics (Latency, Traffic, Errors)
	MonitorPollDuration metric.Float64Histogram
	MonitorUpdatesTotal metric.Int64Counter
	MonitorErrorsTotal  metric.Int64Counter

	// Dispatcher metrics (Latency, Traffic, Errors, Saturation)
	DispatcherDuration   metric.Float64Histogram
	DispatcherDelivered  metric.Int64Counter
	DispatcherFailed     metric.Int64Counter
	DispatcherDropped    metric.Int64Counter
	DispatcherRequeued   metric.Int64Counter
	DispatcherQueueSize  metric.Int64Gauge
	DispatcherBufferSize int64 // config value for saturation calculation
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("gateway")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Process lifecycle metrics
	m.ProcessDuration, err = meter.Float64Histogram(
		"process_duration_seconds",
		metric.WithDescription("Process wall time from creation to terminal state"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 300, 900, 1800, 3600, 14400, 86400),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ProcessesTotal, err = meter.Int64Counter(
		"processes_total",
		metric.WithDescription("Total number of processes launched"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ProcessTransitionsTotal, err = meter.Int64Counter(
		"process_transitions_total",
		metric.WithDescription("Total process state transitions"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ProcessesActive, err = meter.Int64UpDownCounter(
		"processes_active",
		metric.WithDescription("Number of processes currently driven by this instance (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CancellationsTotal, err = meter.Int64Counter(
		"cancellations_total",
		metric.WithDescription("Total cancellation signals written"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Monitor metrics
	m.MonitorPollDuration, err = meter.Float64Histogram(
		"monitor_poll_duration_seconds",
		metric.WithDescription("Bulk status query latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, nil, err
	}

	m.MonitorUpdatesTotal, err = meter.Int64Counter(
		"monitor_updates_total",
		metric.WithDescription("Total job state changes observed"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.MonitorErrorsTotal, err = meter.Int64Counter(
		"monitor_errors_total",
		metric.WithDescription("Total failed status queries"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Dispatcher metrics
	m.DispatcherDuration, err = meter.Float64Histogram(
		"dispatcher_duration_seconds",
		metric.WithDescription("Audit event delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherDelivered, err = meter.Int64Counter(
		"dispatcher_delivered_total",
		metric.WithDescription("Total events successfully delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherFailed, err = meter.Int64Counter(
		"dispatcher_failed_total",
		metric.WithDescription("Total events failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherDropped, err = meter.Int64Counter(
		"dispatcher_dropped_total",
		metric.WithDescription("Total events dropped (buffer full or max requeues)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherRequeued, err = meter.Int64Counter(
		"dispatcher_requeued_total",
		metric.WithDescription("Total events requeued due to open circuit"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherQueueSize, err = meter.Int64Gauge(
		"dispatcher_queue_size",
		metric.WithDescription("Current number of events in dispatcher queue (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordProcessLaunched records a new process entering the registry.
func (m *Metrics) RecordProcessLaunched(ctx context.Context) {
	m.ProcessesTotal.Add(ctx, 1)
	m.ProcessesActive.Add(ctx, 1)
}

// RecordProcessFinished records a process reaching a terminal state.
func (m *Metrics) RecordProcessFinished(ctx context.Context, state string, durationSeconds float64) {
	m.ProcessDuration.Record(ctx, durationSeconds, metric.WithAttributes(stateAttr(state)))
	m.ProcessesActive.Add(ctx, -1)
}

// RecordCancellation records a cancellation signal being written.
func (m *Metrics) RecordCancellation(ctx context.Context) {
	m.CancellationsTotal.Add(ctx, 1)
}

// StatusSink returns a process.StatusSink counting every state transition.
// Combine it with the audit sink via process.MultiSink.
func (m *Metrics) StatusSink() process.StatusSink {
	return transitionSink{metrics: m}
}

type transitionSink struct {
	metrics *Metrics
}

func (s transitionSink) Append(status process.Status) {
	s.metrics.ProcessTransitionsTotal.Add(context.Background(), 1,
		metric.WithAttributes(stateAttr(status.State.String())))
}

// RecordMonitorPoll records one bulk status query against a resource.
func (m *Metrics) RecordMonitorPoll(ctx context.Context, host string, durationSeconds float64) {
	m.MonitorPollDuration.Record(ctx, durationSeconds, metric.WithAttributes(hostAttr(host)))
}

// RecordMonitorUpdate records one observed job state change.
func (m *Metrics) RecordMonitorUpdate(ctx context.Context, state string) {
	m.MonitorUpdatesTotal.Add(ctx, 1, metric.WithAttributes(stateAttr(state)))
}

// RecordMonitorError records a failed status query.
func (m *Metrics) RecordMonitorError(ctx context.Context, host string) {
	m.MonitorErrorsTotal.Add(ctx, 1, metric.WithAttributes(hostAttr(host)))
}

// RecordDispatcherDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	m.DispatcherDelivered.Add(ctx, 1)
	m.DispatcherDuration.Record(ctx, durationSeconds)
}

// RecordDispatcherFailed records a failed event delivery.
func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	m.DispatcherFailed.Add(ctx, 1)
}

// RecordDispatcherDropped records a dropped event.
func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.DispatcherDropped.Add(ctx, 1)
}

// RecordDispatcherRequeued records a requeued event.
func (m *Metrics) RecordDispatcherRequeued(ctx context.Context) {
	m.DispatcherRequeued.Add(ctx, 1)
}

// RecordDispatcherQueueSize records the current queue size.
func (m *Metrics) RecordDispatcherQueueSize(ctx context.Context, size int64) {
	m.DispatcherQueueSize.Record(ctx, size)
}
