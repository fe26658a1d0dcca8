// Package watcher reacts to coordination signals aimed at processes owned
// by this orchestrator instance. Each coordinator arms a one-shot watch on a
// process's signal node, handles the event, and either re-arms or
// terminates. Signals are delivered at least once; all downstream handling
// is idempotent.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gateway/internal/apperrors"
	"gateway/internal/coordination"
	"gateway/pkg/backoff"
)

// watch registration retries before giving up on a signal node.
const maxArmAttempts = 5

// errWatchAborted marks a watch stream that closed before delivering an event.
var errWatchAborted = errors.New("watch aborted before an event")

// watchLoop arms a one-shot watch on path, hands each event to handle, and
// re-arms until handle reports the loop is done or ctx is canceled.
// Registration failures and aborted streams share one attempt counter with
// exponential backoff; only a delivered event resets it.
func watchLoop(ctx context.Context, client coordination.Client, path string, logger *slog.Logger, handle func(context.Context, coordination.Event) bool) error {
	attempt := 0
	retry := func(cause error) (bool, error) {
		attempt++
		if attempt >= maxArmAttempts {
			return false, apperrors.CoordinationUnavailable("watch "+path, cause)
		}
		logger.Warn("Watch interrupted, re-arming", "path", path, "attempt", attempt, "error", cause)
		if !sleep(ctx, backoff.Exponential(attempt, nil)) {
			return false, ctx.Err()
		}
		return true, nil
	}

	for {
		events, err := client.WatchOnce(ctx, path)
		if err != nil {
			ok, err := retry(err)
			if !ok {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				// Stream aborted upstream without an event.
				ok, err := retry(errWatchAborted)
				if !ok {
					return err
				}
				continue
			}
			attempt = 0
			if done := handle(ctx, event); done {
				return nil
			}
		}
	}
}

// sleep waits for d or until ctx is canceled. Reports whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
