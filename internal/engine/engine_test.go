package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"gateway/internal/apperrors"
	"gateway/internal/coordination"
	"gateway/internal/coordination/coordinationtest"
	"gateway/internal/monitor"
	"gateway/internal/process"
	"gateway/internal/resource"
	"gateway/internal/testutil"
)

// fakeSubmitter counts attempts and can fail the first N of them.
type fakeSubmitter struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *fakeSubmitter) Submit(_ context.Context, p *process.Process, req LaunchRequest) (monitor.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return monitor.JobRecord{}, errors.New("sbatch: error: Batch job submission failed")
	}
	return monitor.JobRecord{JobID: "9001", JobName: req.JobName}, nil
}

func (s *fakeSubmitter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fixture struct {
	fake      *coordinationtest.Fake
	paths     coordination.Paths
	registry  *process.Registry
	machine   *process.Machine
	records   *monitor.RecordSet
	submitter *fakeSubmitter
	engine    *Engine
}

func newFixture(t *testing.T, stages Stages, submitterFailures int) *fixture {
	t.Helper()

	f := &fixture{
		fake:      coordinationtest.NewFake(),
		paths:     coordination.NewPaths("/gateway"),
		registry:  process.NewRegistry(),
		machine:   process.NewMachine(nil),
		records:   monitor.NewRecordSet(),
		submitter: &fakeSubmitter{failures: submitterFailures},
	}
	retries := coordination.NewRetryTracker(f.fake, f.paths)
	f.engine = New(f.registry, f.machine, f.fake, f.paths, f.records, retries, f.submitter, stages, "orchestrator-a", nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.engine.Start(ctx)
	return f
}

func validRequest() LaunchRequest {
	return LaunchRequest{
		ExperimentID:  "exp-1",
		TaskID:        "task-1",
		JobName:       "A433255759",
		OwnerUserName: "alice",
		RemoteHost:    "cluster.example.org",
		Family:        resource.FamilySlurm,
	}
}

func TestEngine_LaunchValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Stages{}, 0)

	req := validRequest()
	req.TaskID = ""
	if _, err := f.engine.Launch(context.Background(), req); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}

	req = validRequest()
	req.Family = "condor"
	if _, err := f.engine.Launch(context.Background(), req); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected ErrValidation for unknown family, got %v", err)
	}

	if f.registry.Len() != 0 {
		t.Error("Expected no process registered for invalid requests")
	}
}

func TestEngine_LaunchToMonitoring(t *testing.T) {
	t.Parallel()
	var order []string
	var mu sync.Mutex
	mark := func(name string) StageFunc {
		return func(context.Context, *process.Process) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	f := newFixture(t, Stages{
		PreProcess:         mark("pre"),
		ConfigureWorkspace: mark("workspace"),
		StageInputs:        mark("inputs"),
	}, 0)

	p, err := f.engine.Launch(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	testutil.MustWaitFor(t, func() bool { return p.State() == process.Monitoring })

	mu.Lock()
	got := append([]string(nil), order...)
	mu.Unlock()
	if len(got) != 3 || got[0] != "pre" || got[1] != "workspace" || got[2] != "inputs" {
		t.Errorf("Unexpected stage order %v", got)
	}

	if f.records.Len() != 1 {
		t.Fatalf("Expected 1 monitored job, got %d", f.records.Len())
	}
	record := f.records.List()[0]
	if record.JobID != "9001" || record.ProcessID != p.ID {
		t.Errorf("Unexpected job record %+v", record)
	}
	if record.OwnerUserName != "alice" || record.RemoteHost != "cluster.example.org" {
		t.Errorf("Expected owner and host carried onto the record, got %+v", record)
	}

	owner := f.fake.Data()[f.paths.ProcessRedeliver(p.ID)]
	if owner != "orchestrator-a" {
		t.Errorf("Expected ownership announced, got %q", owner)
	}
}

func TestEngine_JobCompleteFinishesProcess(t *testing.T) {
	t.Parallel()
	var outputs, post atomic.Int64
	f := newFixture(t, Stages{
		StageOutputs: func(context.Context, *process.Process) error { outputs.Add(1); return nil },
		PostProcess:  func(context.Context, *process.Process) error { post.Add(1); return nil },
	}, 0)

	p, err := f.engine.Launch(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	testutil.MustWaitFor(t, func() bool { return p.State() == process.Monitoring })

	f.engine.PublishJobStateChange(context.Background(), monitor.Event{
		JobID:     "9001",
		ProcessID: p.ID,
		State:     monitor.JobStateComplete,
		Reason:    "poll observed CD",
	})

	testutil.MustWaitFor(t, func() bool { return p.State() == process.Completed })
	if outputs.Load() != 1 || post.Load() != 1 {
		t.Errorf("Expected output stages to run once, got %d/%d", outputs.Load(), post.Load())
	}
	testutil.MustWaitFor(t, func() bool { return f.registry.Len() == 0 })
	testutil.MustWaitFor(t, func() bool {
		// Terminal cleanup deletes the coordination subtree.
		_, ok := f.fake.Data()[f.paths.ProcessRedeliver(p.ID)]
		return !ok
	})
}

func TestEngine_JobFailedFailsProcess(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Stages{}, 0)

	p, err := f.engine.Launch(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	testutil.MustWaitFor(t, func() bool { return p.State() == process.Monitoring })

	f.engine.PublishJobStateChange(context.Background(), monitor.Event{
		JobID:     "9001",
		ProcessID: p.ID,
		State:     monitor.JobStateFailed,
		Reason:    "poll observed F",
	})

	testutil.MustWaitFor(t, func() bool { return p.State() == process.Failed })
	if f.registry.Len() != 0 {
		t.Error("Expected failed process removed from registry")
	}
}

func TestEngine_SubmitRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Stages{}, 2)

	p, err := f.engine.Launch(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	testutil.MustWaitFor(t, func() bool { return p.State() == process.Monitoring })
	if got := f.submitter.callCount(); got != 3 {
		t.Errorf("Expected 3 submission attempts, got %d", got)
	}
}

func TestEngine_SubmitExhaustionFailsProcess(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Stages{}, 10)

	p, err := f.engine.Launch(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	testutil.MustWaitFor(t, func() bool { return p.State() == process.Failed })
	if got := f.submitter.callCount(); got != maxSubmitAttempts {
		t.Errorf("Expected %d submission attempts, got %d", maxSubmitAttempts, got)
	}
	// The coordination subtree and the retry counter are cleaned up.
	testutil.MustWaitFor(t, func() bool {
		_, ok := f.fake.Data()[f.paths.TaskRetry("task-1")]
		return !ok
	})
}

func TestEngine_CancelBeforeSubmission(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	f := newFixture(t, Stages{
		StageInputs: func(ctx context.Context, _ *process.Process) error {
			once.Do(func() { close(entered) })
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
	}, 0)

	ctx := context.Background()
	p, err := f.engine.Launch(ctx, validRequest())
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	<-entered
	if err := f.engine.Cancel(ctx, p.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	testutil.MustWaitFor(t, func() bool { return p.CancelRequested() })
	close(release)

	testutil.MustWaitFor(t, func() bool { return p.State() == process.Canceled })
	if got := f.submitter.callCount(); got != 0 {
		t.Errorf("Expected no submission after cancel, got %d attempts", got)
	}
	testutil.MustWaitFor(t, func() bool { return f.registry.Len() == 0 })
}

func TestEngine_CancelWhileMonitoringWaitsForJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Stages{}, 0)

	ctx := context.Background()
	p, err := f.engine.Launch(ctx, validRequest())
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	testutil.MustWaitFor(t, func() bool { return p.State() == process.Monitoring })

	if err := f.engine.Cancel(ctx, p.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	testutil.MustWaitFor(t, func() bool { return p.State() == process.Cancelling })

	// The remote job ends; the pending cancel completes.
	f.engine.PublishJobStateChange(ctx, monitor.Event{
		JobID:     "9001",
		ProcessID: p.ID,
		State:     monitor.JobStateCanceled,
		Reason:    "poll observed CA",
	})
	testutil.MustWaitFor(t, func() bool { return p.State() == process.Canceled })
}
