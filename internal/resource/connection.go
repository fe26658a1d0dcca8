// Package resource abstracts access to remote compute resources for job
// status queries. A Connection wraps an authenticated handle to one resource
// and returns raw, scheduler-specific status codes; normalization happens in
// the monitor layer. Job submission and file staging are external
// collaborators and never pass through here.
package resource

import "context"

// SchedulerFamily identifies the resource job manager running on a resource.
// The family decides both which status command a connection runs and which
// normalization table the monitor applies to its output.
type SchedulerFamily string

const (
	FamilyPBS   SchedulerFamily = "pbs"
	FamilySlurm SchedulerFamily = "slurm"
	FamilyLSF   SchedulerFamily = "lsf"
	FamilyUGE   SchedulerFamily = "uge"
)

// Connection queries job status on one remote compute resource.
//
// All calls carry context timeouts so one unresponsive resource cannot stall
// monitoring of jobs on other resources. Failures surface as
// apperrors.ErrResourceQuery; retry happens at the monitor's poll cadence,
// not here.
type Connection interface {
	// JobStatus returns the raw status code for a single job.
	JobStatus(ctx context.Context, jobID string) (string, error)

	// JobStatuses returns raw status codes for many jobs of one user in a
	// single round trip. Jobs the scheduler no longer lists are reported
	// with the family's completed code.
	JobStatuses(ctx context.Context, userName string, jobIDs []string) (map[string]string, error)

	// Family returns the scheduler family this connection talks to.
	Family() SchedulerFamily

	// Ready checks the resource is reachable.
	Ready(ctx context.Context) error

	// Close releases the underlying handle.
	Close() error
}
