package process

import (
	"sync"

	"gateway/internal/apperrors"
)

// Registry holds the processes currently driven by this orchestrator
// instance. Redelivered launch requests register the same process again, so
// registration is first-write-wins rather than erroring on duplicates.
type Registry struct {
	mu        sync.RWMutex
	processes map[string]*Process
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		processes: make(map[string]*Process),
	}
}

// Register adds p to the registry. If a process with the same id is already
// registered, the existing one is kept and returned.
func (r *Registry) Register(p *Process) *Process {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.processes[p.ID]; ok {
		return existing
	}
	r.processes[p.ID] = p
	return p
}

// Get retrieves a process by id.
func (r *Registry) Get(processID string) (*Process, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.processes[processID]
	if !ok {
		return nil, apperrors.ProcessNotFound(processID)
	}
	return p, nil
}

// Remove drops a process from the registry, typically after it reaches a
// terminal state or is handed over. Returns the process if it was present.
func (r *Registry) Remove(processID string) (*Process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.processes[processID]
	if ok {
		delete(r.processes, processID)
	}
	return p, ok
}

// List returns a snapshot of all registered processes.
func (r *Registry) List() []*Process {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Process, 0, len(r.processes))
	for _, p := range r.processes {
		out = append(out, p)
	}
	return out
}

// Len returns the number of registered processes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.processes)
}
