package resource

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/ssh"

	"gateway/internal/apperrors"
)

// SSHConnection queries job status by running the scheduler family's status
// command over an established SSH connection to the resource's login node.
type SSHConnection struct {
	client  *ssh.Client
	host    string
	family  SchedulerFamily
	manager jobManager
	timeout time.Duration
	logger  *slog.Logger
}

var _ Connection = (*SSHConnection)(nil)

// newSSHConnection wraps an SSH client established by one of the credential
// variants.
func newSSHConnection(client *ssh.Client, host string, family SchedulerFamily, timeout time.Duration) (*SSHConnection, error) {
	manager, ok := jobManagers[family]
	if !ok {
		return nil, fmt.Errorf("unsupported scheduler family %q", family)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SSHConnection{
		client:  client,
		host:    host,
		family:  family,
		manager: manager,
		timeout: timeout,
		logger:  slog.With("component", "resource", "host", host),
	}, nil
}

// JobStatus returns the raw status code for a single job.
func (c *SSHConnection) JobStatus(ctx context.Context, jobID string) (string, error) {
	output, err := c.run(ctx, c.manager.statusCommand(jobID))
	if err != nil {
		return "", apperrors.ResourceQuery("resource.jobStatus", err)
	}

	code, found := c.manager.parseStatus(output, jobID)
	if !found {
		// The scheduler no longer lists the job: it already finished.
		return c.manager.doneCode, nil
	}
	return code, nil
}

// JobStatuses returns raw status codes for many jobs of one user with a
// single remote invocation of the family's bulk listing command.
func (c *SSHConnection) JobStatuses(ctx context.Context, userName string, jobIDs []string) (map[string]string, error) {
	if len(jobIDs) == 0 {
		return map[string]string{}, nil
	}

	output, err := c.run(ctx, c.manager.bulkCommand(userName))
	if err != nil {
		return nil, apperrors.ResourceQuery("resource.jobStatuses", err)
	}

	statuses := make(map[string]string, len(jobIDs))
	for _, jobID := range jobIDs {
		if code, found := c.manager.parseStatus(output, jobID); found {
			statuses[jobID] = code
		} else {
			statuses[jobID] = c.manager.doneCode
		}
	}
	return statuses, nil
}

// Family returns the scheduler family this connection talks to.
func (c *SSHConnection) Family() SchedulerFamily {
	return c.family
}

// Ready verifies the SSH transport is still usable.
func (c *SSHConnection) Ready(ctx context.Context) error {
	_, err := c.run(ctx, "true")
	if err != nil {
		return apperrors.ResourceQuery("resource.ready", err)
	}
	return nil
}

// Close tears down the SSH connection.
func (c *SSHConnection) Close() error {
	return c.client.Close()
}

// run executes one command in a fresh session, bounded by the connection
// timeout and the caller's context. SSH sessions have no native context
// support; cancellation closes the session to unblock the wait.
func (c *SSHConnection) run(ctx context.Context, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	session, err := c.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return "", fmt.Errorf("command %q: %w", command, ctx.Err())
	case err := <-done:
		if err != nil {
			// grep exits non-zero when the job is not listed; that is a
			// valid "no rows" answer, not a transport failure.
			if _, isExit := err.(*ssh.ExitError); isExit && stderr.Len() == 0 {
				return stdout.String(), nil
			}
			return "", fmt.Errorf("command %q: %w (stderr: %s)", command, err, stderr.String())
		}
		return stdout.String(), nil
	}
}
