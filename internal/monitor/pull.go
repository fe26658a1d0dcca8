package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gateway/internal/resource"
	"gateway/pkg/circuitbreaker"
)

// RecordSet is the active-monitoring set shared by the pull and push
// monitors. Lookups and removals happen from concurrent timer and
// notification callbacks.
type RecordSet struct {
	mu     sync.Mutex
	byID   map[string]*JobRecord
	byName map[string]string // job name -> job id
}

// NewRecordSet creates an empty active-monitoring set.
func NewRecordSet() *RecordSet {
	return &RecordSet{
		byID:   make(map[string]*JobRecord),
		byName: make(map[string]string),
	}
}

// Add starts monitoring a job. Re-adding a known job id is a no-op so
// at-least-once delivery of submit events stays idempotent.
func (s *RecordSet) Add(record JobRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[record.JobID]; exists {
		return
	}
	s.byID[record.JobID] = &record
	if record.JobName != "" {
		s.byName[record.JobName] = record.JobID
	}
}

// Remove stops monitoring a job.
func (s *RecordSet) Remove(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.byID[jobID]; ok {
		delete(s.byID, jobID)
		if record.JobName != "" {
			delete(s.byName, record.JobName)
		}
	}
}

// Len returns the number of jobs being monitored.
func (s *RecordSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// List returns a snapshot of all records.
func (s *RecordSet) List() []JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobRecord, 0, len(s.byID))
	for _, record := range s.byID {
		out = append(out, *record)
	}
	return out
}

func (s *RecordSet) get(jobID string) (JobRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byID[jobID]
	if !ok {
		return JobRecord{}, false
	}
	return *record, true
}

func (s *RecordSet) getByName(jobName string) (JobRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobID, ok := s.byName[jobName]
	if !ok {
		return JobRecord{}, false
	}
	record, ok := s.byID[jobID]
	if !ok {
		return JobRecord{}, false
	}
	return *record, true
}

func (s *RecordSet) setState(jobID string, state JobState, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.byID[jobID]; ok {
		record.LastState = state
		record.LastMonitoredAt = at
	}
}

// MetricsRecorder is an optional interface for recording monitor metrics.
type MetricsRecorder interface {
	RecordMonitorPoll(ctx context.Context, host string, durationSeconds float64)
	RecordMonitorUpdate(ctx context.Context, state string)
	RecordMonitorError(ctx context.Context, host string)
}

// PullConfig holds pull monitor settings. Zero values use defaults.
type PullConfig struct {
	Interval     time.Duration // default: 10s
	QueryTimeout time.Duration // default: 30s
}

func (c PullConfig) withDefaults() PullConfig {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 30 * time.Second
	}
	return c
}

// PullMonitor periodically queries each registered resource connection for
// the jobs it hosts, normalizes the raw codes and publishes state changes.
// Jobs reaching a terminal state are removed from the active-monitoring set
// so monitoring resource usage stays bounded.
type PullMonitor struct {
	records   *RecordSet
	publisher Publisher
	config    PullConfig
	breakers  *circuitbreaker.Registry
	metrics   MetricsRecorder
	logger    *slog.Logger

	mu          sync.Mutex
	connections map[string]resource.Connection // keyed by remote host
}

// NewPullMonitor creates a pull monitor. Call Run to start polling.
func NewPullMonitor(records *RecordSet, publisher Publisher, cfg PullConfig, metrics MetricsRecorder) *PullMonitor {
	return &PullMonitor{
		records:   records,
		publisher: publisher,
		config:    cfg.withDefaults(),
		breakers:  circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()),
		metrics:   metrics,
		logger:    slog.With("component", "pullMonitor"),

		connections: make(map[string]resource.Connection),
	}
}

// RegisterConnection makes a resource available for polling under its host
// name. Job records reference the host through JobRecord.RemoteHost.
func (m *PullMonitor) RegisterConnection(host string, conn resource.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[host] = conn
}

// Run polls on a timer until ctx is canceled.
func (m *PullMonitor) Run(ctx context.Context) {
	m.logger.Info("Pull monitor started", "interval", m.config.Interval)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Pull monitor stopped")
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick runs one poll cycle over the active-monitoring set, grouping jobs by
// host and owner so each group costs a single bulk query.
func (m *PullMonitor) tick(ctx context.Context) {
	type groupKey struct {
		host  string
		owner string
	}

	groups := make(map[groupKey][]JobRecord)
	for _, record := range m.records.List() {
		key := groupKey{host: record.RemoteHost, owner: record.OwnerUserName}
		groups[key] = append(groups[key], record)
	}

	for key, group := range groups {
		m.pollGroup(ctx, key.host, key.owner, group)
	}
}

func (m *PullMonitor) pollGroup(ctx context.Context, host, owner string, group []JobRecord) {
	m.mu.Lock()
	conn, ok := m.connections[host]
	m.mu.Unlock()
	if !ok {
		m.logger.Warn("No connection registered for host", "host", host)
		return
	}

	breaker := m.breakers.Get(host)
	if !breaker.Allow() {
		m.logger.Debug("Skipping poll, circuit open", "host", host)
		return
	}

	jobIDs := make([]string, len(group))
	for i, record := range group {
		jobIDs[i] = record.JobID
	}

	queryCtx, cancel := context.WithTimeout(ctx, m.config.QueryTimeout)
	defer cancel()

	start := time.Now()
	statuses, err := conn.JobStatuses(queryCtx, owner, jobIDs)
	if err != nil {
		breaker.RecordFailure()
		if m.metrics != nil {
			m.metrics.RecordMonitorError(ctx, host)
		}
		m.logger.Warn("Status query failed, retrying next cycle", "host", host, "jobs", len(jobIDs), "error", err)
		return
	}
	breaker.RecordSuccess()
	if m.metrics != nil {
		m.metrics.RecordMonitorPoll(ctx, host, time.Since(start).Seconds())
	}

	for _, record := range group {
		raw, ok := statuses[record.JobID]
		if !ok {
			continue
		}
		state := Normalize(record.Family, raw)
		changed := applyUpdate(ctx, m.records, m.publisher, m.logger, record, state, "poll observed "+raw)
		if changed && m.metrics != nil {
			m.metrics.RecordMonitorUpdate(ctx, state.String())
		}
	}
}

// applyUpdate is the single update/removal rule both monitor modes share:
// publish only when the canonical state changed, and drop the record once
// the job is terminal. UNKNOWN never overwrites a known state.
func applyUpdate(ctx context.Context, records *RecordSet, publisher Publisher, logger *slog.Logger, record JobRecord, state JobState, reason string) bool {
	if state == record.LastState {
		return false
	}
	if state == JobStateUnknown && record.LastState != JobStateUnknown {
		logger.Debug("Ignoring UNKNOWN for job with known state", "jobId", record.JobID, "lastState", record.LastState.String())
		return false
	}

	records.setState(record.JobID, state, time.Now())
	logger.Info("Job state changed",
		"jobId", record.JobID,
		"processId", record.ProcessID,
		"from", record.LastState.String(),
		"to", state.String(),
	)

	publisher.PublishJobStateChange(ctx, Event{
		JobID:     record.JobID,
		ProcessID: record.ProcessID,
		State:     state,
		Reason:    reason,
	})

	if state.Terminal() {
		records.Remove(record.JobID)
		logger.Info("Job reached terminal state, monitoring stopped", "jobId", record.JobID, "state", state.String())
	}
	return true
}
