// Package process owns the canonical lifecycle of a process: one execution
// attempt of a task on a remote compute resource. It provides the state
// machine driven by the submission engine, the signal coordinators and the
// job status monitors, plus the registry of processes owned by this
// orchestrator instance.
package process

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"gateway/internal/monitor"
)

// Process is one execution attempt of a task. At any instant a process is
// driven by at most one orchestrator instance; ownership is advisory, so
// every mutation here is idempotent and safe under zero or one drivers.
type Process struct {
	ID           string
	ExperimentID string
	TaskID       string // opaque reference into the externally owned task ordering

	// CredentialRef names the stored credential used to reach the resource.
	// Issuance and storage are external; the caller picks the connection
	// variant matching the credential kind behind this reference.
	CredentialRef string

	mu                sync.Mutex
	state             State
	cancelRequested   bool
	handoverRequested bool
	lastJobState      monitor.JobState
	history           []Status

	CreatedAt time.Time
	updatedAt time.Time
}

// New creates a process in CREATED with a fresh id and one history entry.
func New(experimentID, taskID string) *Process {
	now := time.Now()
	p := &Process{
		ID:           uuid.NewString(),
		ExperimentID: experimentID,
		TaskID:       taskID,
		state:        Created,
		lastJobState: monitor.JobStateUnknown,
		CreatedAt:    now,
		updatedAt:    now,
	}
	p.history = append(p.history, Status{
		ProcessID: p.ID,
		State:     Created,
		Timestamp: now,
	})
	return p
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// CancelRequested reports whether cooperative cancellation has been signaled.
func (p *Process) CancelRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelRequested
}

// HandoverRequested reports whether another instance has claimed ownership.
func (p *Process) HandoverRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handoverRequested
}

// LastJobState returns the last canonical job state applied to this process.
func (p *Process) LastJobState() monitor.JobState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastJobState
}

// History returns a copy of the append-only status audit trail.
func (p *Process) History() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Status, len(p.history))
	copy(out, p.history)
	return out
}

// UpdatedAt returns the time of the last recorded mutation.
func (p *Process) UpdatedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updatedAt
}
