package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"gateway/internal/apperrors"
	"gateway/internal/monitor"
	"gateway/internal/process"
)

// HTTPSubmitter delegates job submission to the external execution layer.
// The execution service stages the task, hands it to the resource's
// scheduler and answers with the scheduler-assigned job id; tracking the
// job from there on is entirely this orchestrator's concern.
type HTTPSubmitter struct {
	endpoint string
	client   *http.Client
}

var _ Submitter = (*HTTPSubmitter)(nil)

// NewHTTPSubmitter creates a submitter posting to the given endpoint.
func NewHTTPSubmitter(endpoint string, timeout time.Duration) *HTTPSubmitter {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPSubmitter{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type submitPayload struct {
	ProcessID     string `json:"processId"`
	ExperimentID  string `json:"experimentId"`
	TaskID        string `json:"taskId"`
	JobName       string `json:"jobName,omitempty"`
	OwnerUserName string `json:"ownerUserName"`
	RemoteHost    string `json:"remoteHost"`
	Family        string `json:"family"`
	CredentialRef string `json:"credentialRef,omitempty"`
}

type submitResult struct {
	JobID   string `json:"jobId"`
	JobName string `json:"jobName,omitempty"`
}

// Submit posts the task to the execution service and returns the job record
// to monitor. Any transport or non-2xx failure is retryable at the engine's
// submission cadence.
func (s *HTTPSubmitter) Submit(ctx context.Context, p *process.Process, req LaunchRequest) (monitor.JobRecord, error) {
	body, err := json.Marshal(submitPayload{
		ProcessID:     p.ID,
		ExperimentID:  req.ExperimentID,
		TaskID:        req.TaskID,
		JobName:       req.JobName,
		OwnerUserName: req.OwnerUserName,
		RemoteHost:    req.RemoteHost,
		Family:        string(req.Family),
		CredentialRef: p.CredentialRef,
	})
	if err != nil {
		return monitor.JobRecord{}, fmt.Errorf("marshal submit payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return monitor.JobRecord{}, fmt.Errorf("create submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return monitor.JobRecord{}, apperrors.ResourceQuery("submitter.submit", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Read a snippet for the error message, the rest is discarded.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return monitor.JobRecord{}, apperrors.ResourceQuery("submitter.submit",
			fmt.Errorf("execution service returned %d: %s", resp.StatusCode, snippet))
	}

	var result submitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return monitor.JobRecord{}, apperrors.ResourceQuery("submitter.submit", fmt.Errorf("decode response: %w", err))
	}
	if result.JobID == "" {
		return monitor.JobRecord{}, apperrors.ResourceQuery("submitter.submit", fmt.Errorf("execution service returned no job id"))
	}

	jobName := result.JobName
	if jobName == "" {
		jobName = req.JobName
	}
	return monitor.JobRecord{JobID: result.JobID, JobName: jobName}, nil
}
