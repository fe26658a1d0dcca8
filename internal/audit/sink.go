// Package audit mirrors process and job status changes to an external
// registry endpoint as CloudEvents. Delivery is asynchronous and fire and
// forget: a failed or dropped event never influences orchestration
// decisions, the registry catches up from later events.
package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"gateway/internal/dispatcher"
	"gateway/internal/monitor"
	"gateway/internal/process"
	"gateway/pkg/cloudevent"
)

// Event types emitted to the registry endpoint.
const (
	EventTypeProcessStatus = "gateway.process.status"
	EventTypeJobStatus     = "gateway.job.status"
)

// Config holds audit delivery settings.
type Config struct {
	Endpoint   string // destination URL; empty disables delivery
	SigningKey string // HMAC key, empty = unsigned
	Source     string // CloudEvents source, typically the instance name
}

// Sink converts status changes into CloudEvents and hands them to the
// dispatcher. Implements process.StatusSink.
type Sink struct {
	dispatcher dispatcher.Dispatcher
	config     Config
	logger     *slog.Logger
}

// NewSink creates an audit sink. With an empty endpoint every record call is
// a no-op, which keeps wiring uniform in deployments without a registry.
func NewSink(d dispatcher.Dispatcher, cfg Config) *Sink {
	return &Sink{
		dispatcher: d,
		config:     cfg,
		logger:     slog.With("component", "auditSink"),
	}
}

// Append implements process.StatusSink.
func (s *Sink) Append(status process.Status) {
	data := map[string]any{
		"processId": status.ProcessID,
		"state":     status.State.String(),
		"timestamp": status.Timestamp,
	}
	if status.Reason != "" {
		data["reason"] = status.Reason
	}
	s.send(EventTypeProcessStatus, status.ProcessID, data)
}

// RecordJobEvent mirrors one job state change into the audit stream.
func (s *Sink) RecordJobEvent(event monitor.Event) {
	data := map[string]any{
		"jobId":     event.JobID,
		"processId": event.ProcessID,
		"state":     event.State.String(),
	}
	if event.Reason != "" {
		data["reason"] = event.Reason
	}
	s.send(EventTypeJobStatus, event.ProcessID, data)
}

func (s *Sink) send(eventType, subject string, data map[string]any) {
	if s.config.Endpoint == "" {
		return
	}

	payload := cloudevent.New(eventType, s.config.Source, subject, uuid.NewString(), data)
	err := s.dispatcher.Dispatch(&dispatcher.Event{
		Payload:     payload,
		Destination: s.config.Endpoint,
		SigningKey:  s.config.SigningKey,
	})
	if err != nil {
		s.logger.Warn("Audit event not queued", "type", eventType, "subject", subject, "error", err)
	}
}

// PublisherTap records job state changes before forwarding them to the next
// publisher. Lets the audit stream observe the monitor funnel without the
// monitors knowing about it.
type PublisherTap struct {
	Sink *Sink
	Next monitor.Publisher
}

func (t PublisherTap) PublishJobStateChange(ctx context.Context, event monitor.Event) {
	t.Sink.RecordJobEvent(event)
	if t.Next != nil {
		t.Next.PublishJobStateChange(ctx, event)
	}
}
