package watcher

import (
	"context"
	"log/slog"

	"gateway/internal/coordination"
	"gateway/internal/process"
)

// FailoverCoordinator observes ownership handoff signals. When an instance
// fails, another instance takes over its processes and writes its own name
// to each process's redeliver node. The previous driver, if still alive,
// sees a name other than its own and releases the process without touching
// it further.
type FailoverCoordinator struct {
	client       coordination.Client
	paths        coordination.Paths
	registry     *process.Registry
	machine      *process.Machine
	instanceName string
	logger       *slog.Logger
}

// NewFailoverCoordinator creates a failover coordinator for this instance.
func NewFailoverCoordinator(client coordination.Client, paths coordination.Paths, registry *process.Registry, machine *process.Machine, instanceName string) *FailoverCoordinator {
	return &FailoverCoordinator{
		client:       client,
		paths:        paths,
		registry:     registry,
		machine:      machine,
		instanceName: instanceName,
		logger:       slog.With("component", "failoverCoordinator", "instance", instanceName),
	}
}

// Watch observes the redeliver node for processID until ownership moves to
// another instance, the node is deleted, or ctx is canceled.
func (f *FailoverCoordinator) Watch(ctx context.Context, processID string) error {
	path := f.paths.ProcessRedeliver(processID)

	return watchLoop(ctx, f.client, path, f.logger, func(_ context.Context, event coordination.Event) bool {
		switch event.Type {
		case coordination.NodeDeleted:
			return true
		case coordination.NodeCreated, coordination.NodeDataChanged:
			return f.applyOwner(processID, event.Payload)
		}
		return false
	})
}

// applyOwner handles one ownership announcement. Reports whether the watch
// is done.
func (f *FailoverCoordinator) applyOwner(processID, owner string) bool {
	if owner == "" {
		f.logger.Warn("Empty owner on redeliver node, ignoring", "processId", processID)
		return false
	}
	if owner == f.instanceName {
		// Our own claim, written during takeover or initial launch.
		f.logger.Debug("Ownership confirmed", "processId", processID)
		return false
	}

	p, err := f.registry.Get(processID)
	if err != nil {
		f.logger.Warn("Handoff signal for process not registered locally", "processId", processID, "newOwner", owner)
		return true
	}

	f.machine.RequestHandover(p)
	f.registry.Remove(processID)
	f.logger.Info("Process released to new owner", "processId", processID, "newOwner", owner)
	return true
}
