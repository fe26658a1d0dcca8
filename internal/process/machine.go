package process

import (
	"log/slog"
	"time"

	"gateway/internal/apperrors"
	"gateway/internal/monitor"
)

// Machine applies lifecycle transitions to processes, records every change
// in the audit trail and turns canonical job states into process progress.
// All mutations are idempotent so at-least-once signal delivery is safe.
type Machine struct {
	sink   StatusSink
	logger *slog.Logger
}

// NewMachine creates a state machine writing audit entries to sink. A nil
// sink discards entries.
func NewMachine(sink StatusSink) *Machine {
	if sink == nil {
		sink = discardSink{}
	}
	return &Machine{
		sink:   sink,
		logger: slog.With("component", "stateMachine"),
	}
}

// Advance moves p to the given state. Disallowed transitions leave the
// process untouched and return an error carrying both states.
func (m *Machine) Advance(p *Process, to State, reason string) error {
	p.mu.Lock()
	status, err := advanceLocked(p, to, reason)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	m.record(p, status)
	return nil
}

// RequestCancel marks p for cooperative cancellation. The flag is observed
// at the next checkpoint or job state update; a process still waiting on an
// external job is moved to CANCELLING immediately so the cancel executor
// can act on the remote job. Returns true the first time the flag is set.
func (m *Machine) RequestCancel(p *Process, reason string) bool {
	p.mu.Lock()
	if p.cancelRequested || p.state.Terminal() {
		p.mu.Unlock()
		return false
	}
	p.cancelRequested = true

	var statuses []Status
	if p.state == Executing || p.state == Monitoring {
		if status, err := advanceLocked(p, Cancelling, reason); err == nil {
			statuses = append(statuses, status)
		}
	}
	p.mu.Unlock()

	m.logger.Info("Cancellation requested", "processId", p.ID, "reason", reason)
	for _, status := range statuses {
		m.record(p, status)
	}
	return true
}

// RequestHandover marks p as claimed by another orchestrator instance. The
// local driver stops at its next checkpoint without touching the process
// further. Idempotent.
func (m *Machine) RequestHandover(p *Process) {
	p.mu.Lock()
	already := p.handoverRequested
	p.handoverRequested = true
	p.mu.Unlock()

	if !already {
		m.logger.Info("Handover requested, releasing process", "processId", p.ID)
	}
}

// Checkpoint is the cooperative safe-point the submission pipeline calls
// between stages. It reports whether the local driver must stop: either a
// cancel was requested (the process is moved to CANCELLING here if the
// pipeline still holds it) or another instance claimed ownership.
func (m *Machine) Checkpoint(p *Process) bool {
	p.mu.Lock()
	stop := p.handoverRequested || p.state.Terminal() || p.state == Cancelling

	var statuses []Status
	if p.cancelRequested && p.state != Cancelling && !p.state.Terminal() {
		if status, err := advanceLocked(p, Cancelling, "cancel observed at checkpoint"); err == nil {
			statuses = append(statuses, status)
		}
		stop = true
	}
	p.mu.Unlock()

	for _, status := range statuses {
		m.record(p, status)
	}
	return stop
}

// ApplyJobState folds one canonical job state into the process lifecycle.
// Repeated deliveries of the same state are no-ops, UNKNOWN never overwrites
// a known state, and nothing moves a process out of a terminal state.
func (m *Machine) ApplyJobState(p *Process, state monitor.JobState, reason string) {
	p.mu.Lock()
	if state == p.lastJobState || state == monitor.JobStateUnknown || p.state.Terminal() {
		p.mu.Unlock()
		return
	}
	if p.lastJobState.Terminal() {
		p.mu.Unlock()
		m.logger.Warn("Ignoring job state after terminal job state",
			"processId", p.ID, "last", p.lastJobState.String(), "got", state.String())
		return
	}
	p.lastJobState = state
	p.updatedAt = time.Now()

	var statuses []Status
	appendTo := func(to State, why string) {
		if status, err := advanceLocked(p, to, why); err == nil {
			statuses = append(statuses, status)
		}
	}

	switch state {
	case monitor.JobStateComplete:
		if p.state == Monitoring {
			if p.cancelRequested {
				appendTo(Cancelling, reason)
			} else {
				appendTo(OutputDataStaging, reason)
			}
		}
	case monitor.JobStateFailed:
		appendTo(Failed, reason)
	case monitor.JobStateCanceled:
		if p.state != Cancelling {
			appendTo(Cancelling, reason)
		}
		appendTo(Canceled, reason)
	default:
		// Queued, active, held and suspended only update lastJobState;
		// the process stays in MONITORING.
	}
	p.mu.Unlock()

	for _, status := range statuses {
		m.record(p, status)
	}
}

// CompleteCancellation finishes a cancel after remote cleanup is done.
func (m *Machine) CompleteCancellation(p *Process, reason string) error {
	return m.Advance(p, Canceled, reason)
}

func (m *Machine) record(p *Process, status Status) {
	m.sink.Append(status)
	m.logger.Info("Process state changed",
		"processId", p.ID,
		"state", status.State.String(),
		"reason", status.Reason,
	)
}

// advanceLocked performs the transition under p.mu and returns the audit
// entry to emit after the lock is released.
func advanceLocked(p *Process, to State, reason string) (Status, error) {
	if !CanTransition(p.state, to) {
		return Status{}, apperrors.InvalidTransition(p.ID, p.state.String(), to.String())
	}
	now := time.Now()
	p.state = to
	p.updatedAt = now
	status := Status{
		ProcessID: p.ID,
		State:     to,
		Timestamp: now,
		Reason:    reason,
	}
	p.history = append(p.history, status)
	return status, nil
}
