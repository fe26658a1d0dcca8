package watcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gateway/internal/coordination"
	"gateway/internal/process"
	"gateway/pkg/backoff"
)

// CancellationCoordinator delivers cross-instance cancellation signals to
// locally driven processes. Any instance may write CANCEL_REQUEST to a
// process's cancel node; the instance driving the process observes it here
// and requests cooperative cancellation on the state machine.
type CancellationCoordinator struct {
	client   coordination.Client
	paths    coordination.Paths
	registry *process.Registry
	machine  *process.Machine
	logger   *slog.Logger

	// A cancel signal can arrive before the launch request that registers
	// the process locally. Lookups retry a bounded number of times with a
	// linearly growing wait before declaring the signal undeliverable.
	lookupAttempts int
	lookupStep     time.Duration
}

// NewCancellationCoordinator creates a cancellation coordinator.
func NewCancellationCoordinator(client coordination.Client, paths coordination.Paths, registry *process.Registry, machine *process.Machine) *CancellationCoordinator {
	return &CancellationCoordinator{
		client:         client,
		paths:          paths,
		registry:       registry,
		machine:        machine,
		logger:         slog.With("component", "cancellationCoordinator"),
		lookupAttempts: 3,
		lookupStep:     3 * time.Second,
	}
}

// Watch observes the cancel node for processID until a cancel is delivered,
// the node is deleted, or ctx is canceled. Run it in its own goroutine when
// the process starts. A signal written before the watch was armed is picked
// up from the node's current payload.
func (c *CancellationCoordinator) Watch(ctx context.Context, processID string) error {
	path := c.paths.ProcessCancel(processID)

	payload, err := c.client.GetNodeData(ctx, path)
	switch {
	case err == nil:
		if payload == coordination.CancelRequestPayload {
			c.deliver(ctx, processID)
			return nil
		}
		c.logger.Warn("Unexpected cancel node payload, watching for changes", "processId", processID, "payload", payload)
	case !errors.Is(err, coordination.ErrNoNode):
		return err
	}

	return watchLoop(ctx, c.client, path, c.logger, func(ctx context.Context, event coordination.Event) bool {
		switch event.Type {
		case coordination.NodeDeleted:
			// Process reached a terminal state and its subtree was cleaned up.
			return true
		case coordination.NodeCreated, coordination.NodeDataChanged:
			if event.Payload != coordination.CancelRequestPayload {
				c.logger.Warn("Ignoring unexpected cancel node payload", "processId", processID, "payload", event.Payload)
				return false
			}
			c.deliver(ctx, processID)
			return true
		}
		return false
	})
}

// deliver finds the process locally and requests cancellation exactly once.
func (c *CancellationCoordinator) deliver(ctx context.Context, processID string) {
	for attempt := 1; attempt <= c.lookupAttempts; attempt++ {
		p, err := c.registry.Get(processID)
		if err == nil {
			if c.machine.RequestCancel(p, "cancellation signal received") {
				c.logger.Info("Cancellation signal delivered", "processId", processID)
			}
			return
		}
		if attempt < c.lookupAttempts {
			if !sleep(ctx, backoff.Linear(attempt, c.lookupStep)) {
				return
			}
		}
	}
	c.logger.Warn("Cancellation signal for process not registered locally", "processId", processID, "attempts", c.lookupAttempts)
}
