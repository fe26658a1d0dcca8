package process

import (
	"errors"
	"testing"

	"gateway/internal/apperrors"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	p := New("exp-1", "task-1")

	r.Register(p)

	got, err := r.Get(p.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != p {
		t.Error("Expected same process instance back")
	}
}

func TestRegistry_RegisterDuplicateKeepsFirst(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	p := New("exp-1", "task-1")
	r.Register(p)

	redelivered := &Process{ID: p.ID, ExperimentID: "exp-1", TaskID: "task-1"}
	kept := r.Register(redelivered)

	if kept != p {
		t.Error("Expected first registration to win on redelivery")
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 process, got %d", r.Len())
	}
}

func TestRegistry_GetMissing(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	_, err := r.Get("nope")
	if err == nil {
		t.Fatal("Expected error for missing process")
	}
	if !errors.Is(err, apperrors.ErrProcessNotFound) {
		t.Errorf("Expected ErrProcessNotFound, got %v", err)
	}
}

func TestRegistry_Remove(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	p := New("exp-1", "task-1")
	r.Register(p)

	removed, ok := r.Remove(p.ID)
	if !ok || removed != p {
		t.Fatal("Expected removal to return the process")
	}
	if _, ok := r.Remove(p.ID); ok {
		t.Error("Expected second removal to report absence")
	}
	if r.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Len())
	}
}

func TestRegistry_List(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(New("exp-1", "task-1"))
	r.Register(New("exp-1", "task-2"))

	if got := len(r.List()); got != 2 {
		t.Errorf("Expected 2 processes, got %d", got)
	}
}
