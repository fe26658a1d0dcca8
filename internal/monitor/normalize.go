package monitor

import "gateway/internal/resource"

// Raw status code tables, one per scheduler family. A signal missing from
// its family's table normalizes to UNKNOWN; normalization never fails.

var pbsStates = map[string]JobState{
	"C": JobStateComplete, // completed after having run
	"E": JobStateComplete, // exiting after having run
	"H": JobStateHeld,
	"T": JobStateHeld, // being moved to a new location
	"Q": JobStateQueued,
	"W": JobStateQueued, // waiting for its execution time
	"R": JobStateActive,
	"S": JobStateSuspended,
	"U": JobStateUnknown,
}

var slurmStates = map[string]JobState{
	"CD": JobStateComplete,
	"CG": JobStateComplete, // completing
	"PD": JobStateQueued,
	"R":  JobStateActive,
	"CF": JobStateActive, // configuring
	"S":  JobStateSuspended,
	"CA": JobStateCanceled,
	"F":  JobStateFailed,
	"NF": JobStateFailed, // node failure
	"TO": JobStateFailed, // timeout
	"PR": JobStateFailed, // preempted
}

var lsfStates = map[string]JobState{
	"DONE":  JobStateComplete,
	"PEND":  JobStateQueued,
	"RUN":   JobStateActive,
	"PSUSP": JobStateSuspended,
	"USUSP": JobStateSuspended,
	"SSUSP": JobStateSuspended,
	"EXIT":  JobStateFailed,
	"UNKWN": JobStateUnknown,
}

var ugeStates = map[string]JobState{
	"qw": JobStateQueued,
	"r":  JobStateActive,
	"h":  JobStateHeld,
	"Er": JobStateFailed,
	"z":  JobStateComplete, // finished jobs listed by qstat -s z
}

var familyStates = map[resource.SchedulerFamily]map[string]JobState{
	resource.FamilyPBS:   pbsStates,
	resource.FamilySlurm: slurmStates,
	resource.FamilyLSF:   lsfStates,
	resource.FamilyUGE:   ugeStates,
}

// Normalize maps a scheduler-family-specific raw status signal to its
// canonical job state. Unrecognized signals (and unknown families) map to
// UNKNOWN and never raise an error.
func Normalize(family resource.SchedulerFamily, raw string) JobState {
	table, ok := familyStates[family]
	if !ok {
		return JobStateUnknown
	}
	if state, ok := table[raw]; ok {
		return state
	}
	return JobStateUnknown
}
