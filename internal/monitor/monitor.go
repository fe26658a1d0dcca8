// Package monitor normalizes raw, scheduler-specific job status signals into
// one canonical job state, and tracks externally executing jobs until they
// reach a terminal state. Two signal channels feed it: pull (polling a
// resource's status command) and push (parsing unsolicited notifications).
// Both funnel into the same job state changed event.
package monitor

import (
	"context"
	"time"

	"gateway/internal/resource"
)

// JobState is the canonical, scheduler-agnostic status of an externally
// executing job as seen by the monitor.
type JobState int

const (
	JobStateUnknown JobState = iota
	JobStateQueued
	JobStateActive
	JobStateHeld
	JobStateSuspended
	JobStateComplete
	JobStateFailed
	JobStateCanceled
)

var jobStateNames = map[JobState]string{
	JobStateUnknown:   "UNKNOWN",
	JobStateQueued:    "QUEUED",
	JobStateActive:    "ACTIVE",
	JobStateHeld:      "HELD",
	JobStateSuspended: "SUSPENDED",
	JobStateComplete:  "COMPLETE",
	JobStateFailed:    "FAILED",
	JobStateCanceled:  "CANCELED",
}

func (s JobState) String() string {
	if name, ok := jobStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Terminal reports whether the job will never report another state.
func (s JobState) Terminal() bool {
	return s == JobStateComplete || s == JobStateFailed || s == JobStateCanceled
}

// JobRecord ties a scheduler-assigned job id to the process it executes for.
// Records stay in the active-monitoring set until the job reaches a terminal
// state, then they are removed.
type JobRecord struct {
	JobID           string
	JobName         string
	ProcessID       string
	OwnerUserName   string
	RemoteHost      string
	Family          resource.SchedulerFamily
	LastState       JobState
	LastMonitoredAt time.Time
}

// Event is the job state changed notification both monitor modes emit.
type Event struct {
	JobID     string
	ProcessID string
	State     JobState
	Reason    string
}

// Publisher receives job state changed events. The process layer implements
// this to progress processes out of MONITORING.
type Publisher interface {
	PublishJobStateChange(ctx context.Context, event Event)
}
