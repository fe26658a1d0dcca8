package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"gateway/internal/apperrors"
	"gateway/internal/resource"
)

// StatusResult is the outcome of parsing one push notification: the job it
// refers to and the canonical state the notification phrase maps to.
type StatusResult struct {
	JobID   string
	JobName string
	State   JobState
}

// notificationParser extracts a job identifier and status phrase from one
// scheduler family's free-text notifications.
type notificationParser interface {
	parse(payload string) (StatusResult, bool)
}

// Slurm notification bodies look like:
//
//	SLURM Job_id=5055468 Name=A433255759 Began, Queued time 00:00:01
//	SLURM Job_id=5055468 Name=A433255759 Ended, Run time 00:02:40
var slurmNotification = regexp.MustCompile(`Job_id=(\d+) Name=(\S+) (Began|Ended|Failed)`)

type slurmParser struct{}

func (slurmParser) parse(payload string) (StatusResult, bool) {
	match := slurmNotification.FindStringSubmatch(payload)
	if match == nil {
		return StatusResult{}, false
	}

	result := StatusResult{JobID: match[1], JobName: match[2]}
	switch match[3] {
	case "Began":
		result.State = JobStateQueued
	case "Ended":
		result.State = JobStateComplete
	case "Failed":
		result.State = JobStateFailed
	}
	return result, true
}

// PBS notifications carry the job id on its own line and a phrase describing
// the event:
//
//	PBS Job Id: 1243406.bigred2
//	Begun execution
var (
	pbsJobID  = regexp.MustCompile(`PBS Job Id:\s*(\S+)`)
	pbsPhrase = regexp.MustCompile(`Begun execution|Execution terminated|Aborted by PBS Server`)
)

type pbsParser struct{}

func (pbsParser) parse(payload string) (StatusResult, bool) {
	idMatch := pbsJobID.FindStringSubmatch(payload)
	phraseMatch := pbsPhrase.FindString(payload)
	if idMatch == nil || phraseMatch == "" {
		return StatusResult{}, false
	}

	result := StatusResult{JobID: idMatch[1]}
	switch phraseMatch {
	case "Begun execution":
		result.State = JobStateQueued
	case "Execution terminated":
		result.State = JobStateComplete
	case "Aborted by PBS Server":
		result.State = JobStateFailed
	}
	return result, true
}

var notificationParsers = map[resource.SchedulerFamily]notificationParser{
	resource.FamilySlurm: slurmParser{},
	resource.FamilyPBS:   pbsParser{},
}

// ParseNotification parses one free-text notification payload for the given
// scheduler family. A payload that does not match the family's expected
// pattern yields a parse failure error; the caller logs and drops it, the
// error never travels past the monitor.
func ParseNotification(family resource.SchedulerFamily, payload string) (StatusResult, error) {
	parser, ok := notificationParsers[family]
	if !ok {
		return StatusResult{}, apperrors.MonitorParse("monitor.parseNotification",
			fmt.Sprintf("no notification parser for scheduler family %q", family))
	}
	result, ok := parser.parse(payload)
	if !ok {
		return StatusResult{}, apperrors.MonitorParse("monitor.parseNotification",
			"payload matches no known notification pattern")
	}
	return result, nil
}

// PushMonitor applies asynchronous notifications (e.g. scheduler completion
// emails) to the active-monitoring set. The notification transport is an
// external collaborator; payloads arrive here already extracted.
type PushMonitor struct {
	records   *RecordSet
	publisher Publisher
	logger    *slog.Logger
}

// NewPushMonitor creates a push monitor sharing the pull monitor's
// active-monitoring set so both modes observe one consistent view.
func NewPushMonitor(records *RecordSet, publisher Publisher) *PushMonitor {
	return &PushMonitor{
		records:   records,
		publisher: publisher,
		logger:    slog.With("component", "pushMonitor"),
	}
}

// HandleNotification parses and normalizes one payload, then applies the
// same update/removal rule as pull monitoring: publish on change, remove the
// record when the state is terminal.
func (m *PushMonitor) HandleNotification(ctx context.Context, family resource.SchedulerFamily, payload string) {
	result, err := ParseNotification(family, payload)
	if err != nil {
		m.logger.Warn("Unparseable notification, ignoring", "family", string(family), "error", err)
		return
	}

	record, ok := m.records.get(result.JobID)
	if !ok && result.JobName != "" {
		// Some schedulers notify by job name before the id is known locally.
		record, ok = m.records.getByName(result.JobName)
	}
	if !ok {
		// In a multi-instance deployment the job may be owned elsewhere.
		m.logger.Debug("Notification for unmonitored job", "jobId", result.JobID)
		return
	}

	applyUpdate(ctx, m.records, m.publisher, m.logger, record, result.State, "notification received")
}
