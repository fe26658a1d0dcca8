package resource

import (
	"fmt"
	"strings"
)

// jobManager describes how to query one scheduler family: the status
// commands to run and how to read their output back into raw codes.
type jobManager struct {
	// doneCode is reported for jobs the scheduler no longer lists. Batch
	// schedulers drop finished jobs from their queue listing, so absence
	// from the output means the job ran to completion.
	doneCode string

	statusCommand func(jobID string) string
	bulkCommand   func(userName string) string

	parseStatus func(output, jobID string) (string, bool)
}

var jobManagers = map[SchedulerFamily]jobManager{
	FamilyPBS: {
		doneCode: "C",
		statusCommand: func(jobID string) string {
			return fmt.Sprintf("qstat -f %s | grep job_state", jobID)
		},
		bulkCommand: func(userName string) string {
			return fmt.Sprintf("qstat -u %s", userName)
		},
		parseStatus: parsePBSStatus,
	},
	FamilySlurm: {
		doneCode: "CD",
		statusCommand: func(jobID string) string {
			return fmt.Sprintf(`squeue -h -j %s -o "%%i %%t"`, jobID)
		},
		bulkCommand: func(userName string) string {
			return fmt.Sprintf(`squeue -h -u %s -o "%%i %%t"`, userName)
		},
		parseStatus: parseColumnStatus(1),
	},
	FamilyLSF: {
		doneCode: "DONE",
		statusCommand: func(jobID string) string {
			return fmt.Sprintf(`bjobs -noheader -o "jobid stat" %s`, jobID)
		},
		bulkCommand: func(userName string) string {
			return fmt.Sprintf(`bjobs -noheader -o "jobid stat" -u %s`, userName)
		},
		parseStatus: parseColumnStatus(1),
	},
	FamilyUGE: {
		doneCode: "z", // qstat -s z lists finished jobs as zombies
		statusCommand: func(jobID string) string {
			return fmt.Sprintf("qstat | grep %s", jobID)
		},
		bulkCommand: func(userName string) string {
			return fmt.Sprintf("qstat -u %s", userName)
		},
		parseStatus: parseColumnStatus(4),
	},
}

// parsePBSStatus reads "job_state = R" lines from qstat -f output.
func parsePBSStatus(output, jobID string) (string, bool) {
	for _, line := range strings.Split(output, "\n") {
		key, value, found := strings.Cut(line, "=")
		if found && strings.TrimSpace(key) == "job_state" {
			return strings.TrimSpace(value), true
		}
	}

	// Bulk qstat -u output: one row per job, status in the second-to-last
	// column of data rows starting with the job id.
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || !matchesJobID(fields[0], jobID) {
			continue
		}
		return fields[len(fields)-2], true
	}
	return "", false
}

// parseColumnStatus reads whitespace-separated rows where the first column
// is the job id and the status sits at the given column index.
func parseColumnStatus(column int) func(output, jobID string) (string, bool) {
	return func(output, jobID string) (string, bool) {
		for _, line := range strings.Split(output, "\n") {
			fields := strings.Fields(line)
			if len(fields) <= column || !matchesJobID(fields[0], jobID) {
				continue
			}
			return fields[column], true
		}
		return "", false
	}
}

// matchesJobID compares a listed job id with the requested one, tolerating
// host suffixes like "1234.bigred2" vs "1234".
func matchesJobID(listed, requested string) bool {
	if listed == requested {
		return true
	}
	prefix, _, found := strings.Cut(listed, ".")
	return found && prefix == requested
}
