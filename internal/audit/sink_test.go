package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"gateway/internal/dispatcher"
	"gateway/internal/monitor"
	"gateway/internal/process"
)

// captureDispatcher records dispatched events.
type captureDispatcher struct {
	mu     sync.Mutex
	events []*dispatcher.Event
	err    error
}

func (d *captureDispatcher) Dispatch(event *dispatcher.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, event)
	return nil
}

func (d *captureDispatcher) Stats() dispatcher.Stats     { return dispatcher.Stats{} }
func (d *captureDispatcher) Close(context.Context) error { return nil }

func (d *captureDispatcher) all() []*dispatcher.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*dispatcher.Event, len(d.events))
	copy(out, d.events)
	return out
}

func TestSink_AppendBuildsProcessStatusEvent(t *testing.T) {
	t.Parallel()
	capture := &captureDispatcher{}
	sink := NewSink(capture, Config{
		Endpoint:   "http://registry.local/events",
		SigningKey: "secret",
		Source:     "orchestrator-a",
	})

	sink.Append(process.Status{
		ProcessID: "proc-1",
		State:     process.Executing,
		Timestamp: time.Now(),
		Reason:    "job submitted",
	})

	events := capture.all()
	if len(events) != 1 {
		t.Fatalf("Expected 1 dispatched event, got %d", len(events))
	}
	event := events[0]
	if event.Destination != "http://registry.local/events" {
		t.Errorf("Unexpected destination %q", event.Destination)
	}
	if event.SigningKey != "secret" {
		t.Error("Expected signing key forwarded")
	}
	if event.Payload.Type != EventTypeProcessStatus {
		t.Errorf("Expected type %q, got %q", EventTypeProcessStatus, event.Payload.Type)
	}
	if event.Payload.Subject != "proc-1" {
		t.Errorf("Expected subject proc-1, got %q", event.Payload.Subject)
	}
	if event.Payload.Data["state"] != "EXECUTING" {
		t.Errorf("Expected state EXECUTING, got %v", event.Payload.Data["state"])
	}
	if event.Payload.Data["reason"] != "job submitted" {
		t.Errorf("Expected reason in payload, got %v", event.Payload.Data["reason"])
	}
}

func TestSink_EmptyEndpointDisablesDelivery(t *testing.T) {
	t.Parallel()
	capture := &captureDispatcher{}
	sink := NewSink(capture, Config{})

	sink.Append(process.Status{ProcessID: "proc-1", State: process.Created})
	sink.RecordJobEvent(monitor.Event{JobID: "1"})

	if len(capture.all()) != 0 {
		t.Error("Expected no dispatches without an endpoint")
	}
}

func TestSink_DispatchFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	capture := &captureDispatcher{err: dispatcher.ErrBufferFull}
	sink := NewSink(capture, Config{Endpoint: "http://registry.local/events"})

	// Must not panic or propagate; audit is fire and forget.
	sink.Append(process.Status{ProcessID: "proc-1", State: process.Created})
}

func TestPublisherTap_RecordsAndForwards(t *testing.T) {
	t.Parallel()
	capture := &captureDispatcher{}
	sink := NewSink(capture, Config{Endpoint: "http://registry.local/events"})

	var forwarded []monitor.Event
	next := publisherFunc(func(_ context.Context, event monitor.Event) {
		forwarded = append(forwarded, event)
	})
	tap := PublisherTap{Sink: sink, Next: next}

	tap.PublishJobStateChange(context.Background(), monitor.Event{
		JobID:     "42",
		ProcessID: "proc-1",
		State:     monitor.JobStateComplete,
	})

	events := capture.all()
	if len(events) != 1 {
		t.Fatalf("Expected 1 audit event, got %d", len(events))
	}
	if events[0].Payload.Type != EventTypeJobStatus {
		t.Errorf("Expected type %q, got %q", EventTypeJobStatus, events[0].Payload.Type)
	}
	if events[0].Payload.Data["state"] != "COMPLETE" {
		t.Errorf("Expected COMPLETE, got %v", events[0].Payload.Data["state"])
	}
	if len(forwarded) != 1 {
		t.Fatalf("Expected event forwarded to next publisher, got %d", len(forwarded))
	}
}

type publisherFunc func(context.Context, monitor.Event)

func (f publisherFunc) PublishJobStateChange(ctx context.Context, event monitor.Event) {
	f(ctx, event)
}
