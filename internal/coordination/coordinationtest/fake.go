// Package coordinationtest provides an in-memory coordination.Client for tests.
package coordinationtest

import (
	"context"
	"strings"
	"sync"

	"gateway/internal/coordination"
)

// Fake is an in-memory coordination client with working one-shot watches.
// Safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	data     map[string]string
	watchers map[string][]chan coordination.Event

	// Err, when set, is returned by every operation. Use it to simulate an
	// unreachable coordination service.
	Err error
}

var _ coordination.Client = (*Fake)(nil)

// NewFake creates an empty fake client.
func NewFake() *Fake {
	return &Fake{
		data:     make(map[string]string),
		watchers: make(map[string][]chan coordination.Event),
	}
}

func (f *Fake) CreateNode(ctx context.Context, path, payload string, ephemeral bool) error {
	return f.SetNodeData(ctx, path, payload)
}

func (f *Fake) SetNodeData(ctx context.Context, path, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}

	_, existed := f.data[path]
	f.data[path] = payload

	eventType := coordination.NodeDataChanged
	if !existed {
		eventType = coordination.NodeCreated
	}
	f.notify(coordination.Event{Type: eventType, Path: path, Payload: payload})
	return nil
}

func (f *Fake) GetNodeData(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}

	payload, ok := f.data[path]
	if !ok {
		return "", coordination.ErrNoNode
	}
	return payload, nil
}

func (f *Fake) Exists(ctx context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	_, ok := f.data[path]
	return ok, nil
}

func (f *Fake) DeleteNode(ctx context.Context, path string, recursive bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}

	for key := range f.data {
		if key == path || (recursive && strings.HasPrefix(key, path+"/")) {
			delete(f.data, key)
			f.notify(coordination.Event{Type: coordination.NodeDeleted, Path: key})
		}
	}
	return nil
}

func (f *Fake) CompareAndSwap(ctx context.Context, path, expected, payload string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}

	current, exists := f.data[path]
	if expected == "" {
		if exists {
			return false, nil
		}
	} else if !exists || current != expected {
		return false, nil
	}

	f.data[path] = payload
	f.notify(coordination.Event{Type: coordination.NodeDataChanged, Path: path, Payload: payload})
	return true, nil
}

func (f *Fake) WatchOnce(ctx context.Context, path string) (<-chan coordination.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	ch := make(chan coordination.Event, 1)
	f.watchers[path] = append(f.watchers[path], ch)
	return ch, nil
}

func (f *Fake) Close() error {
	return nil
}

// AbortWatches closes every armed watch on path without delivering an event,
// simulating a watch stream torn down by the coordination service.
func (f *Fake) AbortWatches(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.watchers[path] {
		close(ch)
	}
	delete(f.watchers, path)
}

// Watchers reports how many one-shot watches are currently armed on path.
func (f *Fake) Watchers(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers[path])
}

// Data returns a copy of the current node payloads.
func (f *Fake) Data() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]string, len(f.data))
	for k, v := range f.data {
		out[k] = v
	}
	return out
}

// notify delivers an event to each one-shot watcher of the path and drops
// the registrations. Callers must hold f.mu.
func (f *Fake) notify(ev coordination.Event) {
	for _, ch := range f.watchers[ev.Path] {
		ch <- ev
		close(ch)
	}
	delete(f.watchers, ev.Path)
}
