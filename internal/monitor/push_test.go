package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gateway/internal/apperrors"
	"gateway/internal/resource"
)

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *capturePublisher) PublishJobStateChange(_ context.Context, event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) all() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

func TestParseNotification_SlurmBegan(t *testing.T) {
	t.Parallel()
	payload := "SLURM Job_id=5055468 Name=A433255759 Began, Queued time 00:00:01"

	result, err := ParseNotification(resource.FamilySlurm, payload)
	if err != nil {
		t.Fatalf("Expected payload to parse, got %v", err)
	}
	if result.JobID != "5055468" {
		t.Errorf("Expected job id 5055468, got %q", result.JobID)
	}
	if result.JobName != "A433255759" {
		t.Errorf("Expected job name A433255759, got %q", result.JobName)
	}
	if result.State != JobStateQueued {
		t.Errorf("Expected QUEUED, got %v", result.State)
	}
}

func TestParseNotification_SlurmEnded(t *testing.T) {
	t.Parallel()
	payload := "SLURM Job_id=5055468 Name=A433255759 Ended, Run time 00:02:40, COMPLETED, ExitCode 0"

	result, err := ParseNotification(resource.FamilySlurm, payload)
	if err != nil {
		t.Fatalf("Expected payload to parse, got %v", err)
	}
	if result.State != JobStateComplete {
		t.Errorf("Expected COMPLETE, got %v", result.State)
	}
}

func TestParseNotification_SlurmFailed(t *testing.T) {
	t.Parallel()
	payload := "SLURM Job_id=5055468 Name=A433255759 Failed, Run time 00:01:12"

	result, err := ParseNotification(resource.FamilySlurm, payload)
	if err != nil {
		t.Fatalf("Expected payload to parse, got %v", err)
	}
	if result.State != JobStateFailed {
		t.Errorf("Expected FAILED, got %v", result.State)
	}
}

func TestParseNotification_PBS(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		payload string
		want    JobState
	}{
		{"begun", "PBS Job Id: 1243406.bigred2\nBegun execution", JobStateQueued},
		{"terminated", "PBS Job Id: 1243406.bigred2\nExecution terminated\nExit_status=0", JobStateComplete},
		{"aborted", "PBS Job Id: 1243406.bigred2\nAborted by PBS Server", JobStateFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result, err := ParseNotification(resource.FamilyPBS, tc.payload)
			if err != nil {
				t.Fatalf("Expected payload to parse, got %v", err)
			}
			if result.JobID != "1243406.bigred2" {
				t.Errorf("Expected job id 1243406.bigred2, got %q", result.JobID)
			}
			if result.State != tc.want {
				t.Errorf("Expected %v, got %v", tc.want, result.State)
			}
		})
	}
}

func TestParseNotification_Garbage(t *testing.T) {
	t.Parallel()
	_, err := ParseNotification(resource.FamilySlurm, "weekly maintenance window announcement")
	if !errors.Is(err, apperrors.ErrMonitorParse) {
		t.Errorf("Expected ErrMonitorParse for garbage payload, got %v", err)
	}
	_, err = ParseNotification(resource.FamilyLSF, "anything")
	if !errors.Is(err, apperrors.ErrMonitorParse) {
		t.Errorf("Expected ErrMonitorParse for unsupported family, got %v", err)
	}
}

func TestPushMonitor_PublishesAndRemovesOnTerminal(t *testing.T) {
	t.Parallel()
	records := NewRecordSet()
	records.Add(JobRecord{
		JobID:     "5055468",
		JobName:   "A433255759",
		ProcessID: "proc-1",
		Family:    resource.FamilySlurm,
		LastState: JobStateActive,
	})
	publisher := &capturePublisher{}
	m := NewPushMonitor(records, publisher)

	m.HandleNotification(context.Background(), resource.FamilySlurm,
		"SLURM Job_id=5055468 Name=A433255759 Ended, Run time 00:02:40")

	events := publisher.all()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].ProcessID != "proc-1" {
		t.Errorf("Expected process id proc-1, got %q", events[0].ProcessID)
	}
	if events[0].State != JobStateComplete {
		t.Errorf("Expected COMPLETE, got %v", events[0].State)
	}
	if records.Len() != 0 {
		t.Errorf("Expected terminal job removed from monitoring, have %d records", records.Len())
	}
}

func TestPushMonitor_LookupByJobName(t *testing.T) {
	t.Parallel()
	records := NewRecordSet()
	records.Add(JobRecord{
		JobID:   "local-id-9",
		JobName: "A433255759",
		Family:  resource.FamilySlurm,
	})
	publisher := &capturePublisher{}
	m := NewPushMonitor(records, publisher)

	// Scheduler-assigned id differs from the locally tracked one; the
	// name index still resolves the record.
	m.HandleNotification(context.Background(), resource.FamilySlurm,
		"SLURM Job_id=777 Name=A433255759 Began, Queued time 00:00:01")

	events := publisher.all()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].JobID != "local-id-9" {
		t.Errorf("Expected event for tracked job local-id-9, got %q", events[0].JobID)
	}
}

func TestPushMonitor_UnmonitoredJobIgnored(t *testing.T) {
	t.Parallel()
	records := NewRecordSet()
	publisher := &capturePublisher{}
	m := NewPushMonitor(records, publisher)

	m.HandleNotification(context.Background(), resource.FamilySlurm,
		"SLURM Job_id=1 Name=other Began, Queued time 00:00:01")

	if len(publisher.all()) != 0 {
		t.Error("Expected no events for unmonitored job")
	}
}

func TestPushMonitor_DuplicateNotificationIsNoOp(t *testing.T) {
	t.Parallel()
	records := NewRecordSet()
	records.Add(JobRecord{JobID: "42", Family: resource.FamilySlurm, LastState: JobStateUnknown})
	publisher := &capturePublisher{}
	m := NewPushMonitor(records, publisher)

	payload := "SLURM Job_id=42 Name=j Began, Queued time 00:00:01"
	m.HandleNotification(context.Background(), resource.FamilySlurm, payload)
	m.HandleNotification(context.Background(), resource.FamilySlurm, payload)

	if got := len(publisher.all()); got != 1 {
		t.Errorf("Expected duplicate notification suppressed, got %d events", got)
	}
}
