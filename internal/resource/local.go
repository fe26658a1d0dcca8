package resource

import (
	"context"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	"gateway/internal/apperrors"
)

// jobIDLabel marks containers that stand in for scheduler jobs on a local
// resource. The label value is the job id the monitor tracks.
const jobIDLabel = "gateway.job-id"

// LocalConnection is a development resource kind backed by the local Docker
// daemon: each monitored job is a labelled container whose state is reported
// using PBS-compatible raw codes, so the normal PBS normalization table
// applies unchanged.
type LocalConnection struct {
	client  *client.Client
	timeout time.Duration
}

var _ Connection = (*LocalConnection)(nil)

// NewLocal connects to the local Docker daemon.
func NewLocal(queryTimeout time.Duration) (*LocalConnection, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, apperrors.ResourceQuery("resource.localConnect", err)
	}
	if queryTimeout <= 0 {
		queryTimeout = 10 * time.Second
	}
	return &LocalConnection{client: cli, timeout: queryTimeout}, nil
}

// JobStatus reports the raw code for one job container.
func (c *LocalConnection) JobStatus(ctx context.Context, jobID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	containers, err := c.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", jobIDLabel+"="+jobID)),
	})
	if err != nil {
		return "", apperrors.ResourceQuery("resource.localJobStatus", err)
	}
	if len(containers) == 0 {
		// Container already reaped: the job ran to completion.
		return "C", nil
	}
	return containerRawCode(containers[0]), nil
}

// JobStatuses lists all job containers once and reports each requested job.
func (c *LocalConnection) JobStatuses(ctx context.Context, _ string, jobIDs []string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	containers, err := c.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", jobIDLabel)),
	})
	if err != nil {
		return nil, apperrors.ResourceQuery("resource.localJobStatuses", err)
	}

	byJobID := make(map[string]container.Summary, len(containers))
	for _, summary := range containers {
		byJobID[summary.Labels[jobIDLabel]] = summary
	}

	statuses := make(map[string]string, len(jobIDs))
	for _, jobID := range jobIDs {
		if summary, ok := byJobID[jobID]; ok {
			statuses[jobID] = containerRawCode(summary)
		} else {
			statuses[jobID] = "C"
		}
	}
	return statuses, nil
}

// Family reports PBS: local containers emit PBS-compatible codes.
func (c *LocalConnection) Family() SchedulerFamily {
	return FamilyPBS
}

// Ready verifies the Docker daemon is reachable.
func (c *LocalConnection) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.client.Ping(ctx); err != nil {
		return apperrors.ResourceQuery("resource.localReady", err)
	}
	return nil
}

// Close releases the Docker client.
func (c *LocalConnection) Close() error {
	return c.client.Close()
}

func containerRawCode(summary container.Summary) string {
	switch summary.State {
	case "created":
		return "Q"
	case "running":
		return "R"
	case "paused":
		return "S"
	case "exited", "dead":
		return "C"
	default:
		return "U"
	}
}
