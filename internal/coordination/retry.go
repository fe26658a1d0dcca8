package coordination

import (
	"context"
	"errors"
	"strconv"

	"gateway/internal/apperrors"
)

// RetryTracker persists per-task retry counters in the coordination service
// so they survive orchestrator restarts and ownership handoffs.
type RetryTracker struct {
	client Client
	paths  Paths
}

// NewRetryTracker creates a tracker over the given client and namespace.
func NewRetryTracker(client Client, paths Paths) *RetryTracker {
	return &RetryTracker{client: client, paths: paths}
}

// RetryCount returns the stored retry count for a task. An absent counter
// node has the logical value 1. A non-numeric payload is surfaced as
// ErrRetryStoreCorruption; it is the caller's decision to reset or abort.
func (t *RetryTracker) RetryCount(ctx context.Context, taskID string) (int, error) {
	payload, err := t.client.GetNodeData(ctx, t.paths.TaskRetry(taskID))
	if errors.Is(err, ErrNoNode) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}

	count, err := strconv.Atoi(payload)
	if err != nil {
		return 0, apperrors.RetryStoreCorruption(taskID, payload)
	}
	return count, nil
}

// Increment writes current+1 to the task's counter node, creating it if
// absent. The write is a compare-and-swap against the expected current
// payload: a concurrent increment from another owner makes the guard fail
// rather than silently losing an update.
func (t *RetryTracker) Increment(ctx context.Context, taskID string, current int) error {
	path := t.paths.TaskRetry(taskID)
	next := strconv.Itoa(current + 1)

	// A counter that was never written has the logical value 1 with no
	// backing node, so the guard for current==1 also accepts absence.
	if current == 1 {
		ok, err := t.client.CompareAndSwap(ctx, path, "", next)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	ok, err := t.client.CompareAndSwap(ctx, path, strconv.Itoa(current), next)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.CoordinationUnavailable("coordination.incrementRetry",
			errors.New("concurrent counter update, re-read and retry"))
	}
	return nil
}

// Clear removes the counter node for a task. Called when the task's process
// reaches a terminal state.
func (t *RetryTracker) Clear(ctx context.Context, taskID string) error {
	return t.client.DeleteNode(ctx, t.paths.TaskRetry(taskID), false)
}
