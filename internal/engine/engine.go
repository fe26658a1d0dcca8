// Package engine drives processes through their lifecycle: it validates
// launch requests, runs the staging pipeline with cooperative cancellation
// checkpoints, submits jobs through a pluggable submitter, consumes the
// monitor's job state events, and cleans up coordination state when a
// process reaches a terminal state.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gateway/internal/apperrors"
	"gateway/internal/coordination"
	"gateway/internal/monitor"
	"gateway/internal/observability"
	"gateway/internal/process"
	"gateway/internal/watcher"
	"gateway/pkg/backoff"
)

// Job submission attempts per task before the process is failed. The
// counter lives in the coordination service, so attempts survive a driver
// restart and redelivery.
const maxSubmitAttempts = 3

// Submitter starts the remote job for a process that finished input
// staging. Implementations wrap the resource-specific submission mechanism
// and return the record the monitors track the job by.
type Submitter interface {
	Submit(ctx context.Context, p *process.Process, req LaunchRequest) (monitor.JobRecord, error)
}

// StageFunc is one unit of pipeline work (workspace setup, data staging,
// post processing). A nil stage is skipped.
type StageFunc func(ctx context.Context, p *process.Process) error

// Stages holds the pipeline hooks around job execution.
type Stages struct {
	PreProcess         StageFunc
	ConfigureWorkspace StageFunc
	StageInputs        StageFunc
	StageOutputs       StageFunc
	PostProcess        StageFunc
}

// Engine orchestrates process execution for one instance.
type Engine struct {
	registry  *process.Registry
	machine   *process.Machine
	client    coordination.Client
	paths     coordination.Paths
	records   *monitor.RecordSet
	retries   *coordination.RetryTracker
	cancels   *watcher.CancellationCoordinator
	failovers *watcher.FailoverCoordinator
	submitter Submitter
	stages    Stages

	instanceName string
	metrics      *observability.Metrics
	logger       *slog.Logger

	mu  sync.Mutex
	ctx context.Context
	wg  sync.WaitGroup
}

// New creates an engine. Call Start before launching processes.
func New(
	registry *process.Registry,
	machine *process.Machine,
	client coordination.Client,
	paths coordination.Paths,
	records *monitor.RecordSet,
	retries *coordination.RetryTracker,
	submitter Submitter,
	stages Stages,
	instanceName string,
	metrics *observability.Metrics,
) *Engine {
	return &Engine{
		registry:     registry,
		machine:      machine,
		client:       client,
		paths:        paths,
		records:      records,
		retries:      retries,
		cancels:      watcher.NewCancellationCoordinator(client, paths, registry, machine),
		failovers:    watcher.NewFailoverCoordinator(client, paths, registry, machine, instanceName),
		submitter:    submitter,
		stages:       stages,
		instanceName: instanceName,
		metrics:      metrics,
		logger:       slog.With("component", "engine", "instance", instanceName),
	}
}

// Start binds the engine to its lifecycle context. Watchers and pipelines
// spawned by Launch stop when ctx is canceled.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()
}

// Drain waits for running pipelines to reach their next stop point.
func (e *Engine) Drain() {
	e.wg.Wait()
}

func (e *Engine) lifecycleCtx() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

// Launch validates the request, registers a new process, announces
// ownership on the coordination service and starts the pipeline
// asynchronously. Returns the created process.
func (e *Engine) Launch(ctx context.Context, req LaunchRequest) (*process.Process, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	p := process.New(req.ExperimentID, req.TaskID)
	p.CredentialRef = req.CredentialRef
	p = e.registry.Register(p)

	if err := e.client.CreateNode(ctx, e.paths.ProcessRedeliver(p.ID), e.instanceName, false); err != nil {
		e.registry.Remove(p.ID)
		return nil, apperrors.CoordinationUnavailable("engine.announceOwnership", err)
	}

	runCtx := e.lifecycleCtx()
	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		if err := e.cancels.Watch(runCtx, p.ID); err != nil && runCtx.Err() == nil {
			e.logger.Warn("Cancellation watch ended", "processId", p.ID, "error", err)
		}
	}()
	go func() {
		defer e.wg.Done()
		if err := e.failovers.Watch(runCtx, p.ID); err != nil && runCtx.Err() == nil {
			e.logger.Warn("Failover watch ended", "processId", p.ID, "error", err)
		}
	}()
	go func() {
		defer e.wg.Done()
		e.runPipeline(runCtx, p, req)
	}()

	if e.metrics != nil {
		e.metrics.RecordProcessLaunched(ctx)
	}
	e.logger.Info("Process launched", "processId", p.ID, "experimentId", req.ExperimentID, "taskId", req.TaskID)
	return p, nil
}

// Cancel signals cancellation for a process. The signal travels through the
// coordination service, so it reaches the driving instance whichever one it
// is; the local instance observes it through the same watch.
func (e *Engine) Cancel(ctx context.Context, processID string) error {
	path := e.paths.ProcessCancel(processID)
	if err := e.client.CreateNode(ctx, path, coordination.CancelRequestPayload, false); err != nil {
		return apperrors.CoordinationUnavailable("engine.cancel", err)
	}
	if e.metrics != nil {
		e.metrics.RecordCancellation(ctx)
	}
	e.logger.Info("Cancellation signal written", "processId", processID)
	return nil
}

// Status returns a locally driven process.
func (e *Engine) Status(processID string) (*process.Process, error) {
	return e.registry.Get(processID)
}

// List returns all locally driven processes.
func (e *Engine) List() []*process.Process {
	return e.registry.List()
}

// runPipeline advances the process through the staging states, submits the
// job and leaves it in MONITORING. Between stages it stops at checkpoints
// so cancellation and handover interrupt promptly.
func (e *Engine) runPipeline(ctx context.Context, p *process.Process, req LaunchRequest) {
	steps := []struct {
		state process.State
		stage StageFunc
	}{
		{process.Validated, nil},
		{process.Started, nil},
		{process.PreProcessing, e.stages.PreProcess},
		{process.ConfiguringWorkspace, e.stages.ConfigureWorkspace},
		{process.InputDataStaging, e.stages.StageInputs},
	}

	for _, step := range steps {
		if e.stopAtCheckpoint(ctx, p) {
			return
		}
		if err := e.machine.Advance(p, step.state, ""); err != nil {
			e.logger.Error("Pipeline cannot advance", "processId", p.ID, "error", err)
			return
		}
		if step.stage != nil {
			if err := step.stage(ctx, p); err != nil {
				e.fail(ctx, p, fmt.Sprintf("%s stage failed: %v", step.state, err))
				return
			}
		}
	}

	if e.stopAtCheckpoint(ctx, p) {
		return
	}
	if err := e.machine.Advance(p, process.Executing, "submitting job"); err != nil {
		e.logger.Error("Pipeline cannot advance", "processId", p.ID, "error", err)
		return
	}

	record, ok := e.submit(ctx, p, req)
	if !ok {
		return
	}

	record.ProcessID = p.ID
	record.OwnerUserName = req.OwnerUserName
	record.RemoteHost = req.RemoteHost
	record.Family = req.Family
	e.records.Add(record)

	if err := e.machine.Advance(p, process.Monitoring, "job "+record.JobID+" submitted"); err != nil {
		e.logger.Error("Pipeline cannot advance", "processId", p.ID, "error", err)
	}
}

// submit attempts job submission with a durable attempt counter. Reports
// whether the job was started.
func (e *Engine) submit(ctx context.Context, p *process.Process, req LaunchRequest) (monitor.JobRecord, bool) {
	for {
		if e.stopAtCheckpoint(ctx, p) {
			return monitor.JobRecord{}, false
		}

		record, err := e.submitter.Submit(ctx, p, req)
		if err == nil {
			return record, true
		}

		attempts, cerr := e.retries.RetryCount(ctx, p.TaskID)
		if cerr != nil {
			e.fail(ctx, p, fmt.Sprintf("job submission failed and attempt counter unreadable: %v", err))
			return monitor.JobRecord{}, false
		}
		if attempts >= maxSubmitAttempts {
			e.fail(ctx, p, fmt.Sprintf("job submission failed after %d attempts: %v", attempts, err))
			return monitor.JobRecord{}, false
		}
		if cerr := e.retries.Increment(ctx, p.TaskID, attempts); cerr != nil {
			e.logger.Warn("Attempt counter not incremented", "taskId", p.TaskID, "error", cerr)
		}

		e.logger.Warn("Job submission failed, retrying", "processId", p.ID, "attempt", attempts, "error", err)
		select {
		case <-ctx.Done():
			return monitor.JobRecord{}, false
		case <-time.After(backoff.Exponential(attempts, nil)):
		}
	}
}

// stopAtCheckpoint runs a checkpoint and, when the pipeline must stop,
// finishes a cancel that has no remote job to wait for.
func (e *Engine) stopAtCheckpoint(ctx context.Context, p *process.Process) bool {
	if ctx.Err() != nil {
		return true
	}
	if !e.machine.Checkpoint(p) {
		return false
	}
	if p.State() == process.Cancelling {
		// No job was submitted yet, nothing remote to clean up.
		if err := e.machine.CompleteCancellation(p, "canceled before job submission"); err == nil {
			e.cleanup(ctx, p)
		}
	}
	return true
}

// PublishJobStateChange implements monitor.Publisher: it folds job state
// changes into the process lifecycle and continues the pipeline when the
// job is done.
func (e *Engine) PublishJobStateChange(ctx context.Context, event monitor.Event) {
	p, err := e.registry.Get(event.ProcessID)
	if err != nil {
		e.logger.Debug("Job state change for unregistered process", "processId", event.ProcessID, "jobId", event.JobID)
		return
	}

	e.machine.ApplyJobState(p, event.State, event.Reason)

	switch p.State() {
	case process.OutputDataStaging:
		runCtx := e.lifecycleCtx()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.finish(runCtx, p)
		}()
	case process.Cancelling:
		// The remote job ended while a cancel was pending, so the cancel
		// can complete without touching the resource.
		if event.State.Terminal() {
			if err := e.machine.CompleteCancellation(p, "job ended during cancellation"); err == nil {
				e.cleanup(ctx, p)
			}
		}
	case process.Canceled, process.Failed:
		e.cleanup(ctx, p)
	}
}

// finish runs the output side of the pipeline after the job completed.
func (e *Engine) finish(ctx context.Context, p *process.Process) {
	if e.stages.StageOutputs != nil {
		if err := e.stages.StageOutputs(ctx, p); err != nil {
			e.fail(ctx, p, fmt.Sprintf("output staging failed: %v", err))
			return
		}
	}
	if err := e.machine.Advance(p, process.PostProcessing, ""); err != nil {
		e.logger.Error("Pipeline cannot advance", "processId", p.ID, "error", err)
		return
	}
	if e.stages.PostProcess != nil {
		if err := e.stages.PostProcess(ctx, p); err != nil {
			e.fail(ctx, p, fmt.Sprintf("post processing failed: %v", err))
			return
		}
	}
	if err := e.machine.Advance(p, process.Completed, ""); err != nil {
		e.logger.Error("Pipeline cannot advance", "processId", p.ID, "error", err)
		return
	}
	e.cleanup(ctx, p)
}

// fail moves the process to FAILED and cleans up. FAILED is reachable from
// any non-terminal state, so errors here only mean the process already
// ended some other way.
func (e *Engine) fail(ctx context.Context, p *process.Process, reason string) {
	if err := e.machine.Advance(p, process.Failed, reason); err != nil {
		e.logger.Warn("Process already terminal", "processId", p.ID, "reason", reason)
		return
	}
	e.cleanup(ctx, p)
}

// cleanup removes the terminal process from the registry and deletes its
// coordination subtree and retry counter. Node deletion also terminates the
// signal watches.
func (e *Engine) cleanup(ctx context.Context, p *process.Process) {
	if _, ok := e.registry.Remove(p.ID); !ok {
		// Another path already finished this process.
		return
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := e.client.DeleteNode(cleanupCtx, e.paths.ProcessRoot(p.ID), true); err != nil {
		e.logger.Warn("Process subtree not cleaned up", "processId", p.ID, "error", err)
	}
	if err := e.retries.Clear(cleanupCtx, p.TaskID); err != nil {
		e.logger.Warn("Retry counter not cleared", "taskId", p.TaskID, "error", err)
	}
	if e.metrics != nil {
		e.metrics.RecordProcessFinished(cleanupCtx, p.State().String(), time.Since(p.CreatedAt).Seconds())
	}
	e.logger.Info("Process finished", "processId", p.ID, "state", p.State().String())
}
