package room

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(context.Background(), newFakeLog(), allowAll, Options{})
	t.Cleanup(m.Shutdown)
	return m
}

func TestManager_NewRoomIDIsOpaque(t *testing.T) {
	m := newTestManager(t)

	id := m.NewRoomID()
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("Room ID should be a valid UUID, got %q: %v", id, err)
	}

	// Minting an ID creates no room state.
	if stats := m.Stats(); stats["rooms"] != 0 {
		t.Errorf("Expected no rooms after minting an ID, got %d", stats["rooms"])
	}

	if m.NewRoomID() == id {
		t.Error("Room IDs should be collision-resistant")
	}
}

func TestManager_GetOrCreateIsIdempotent(t *testing.T) {
	m := newTestManager(t)

	r1, err := m.GetOrCreate("lobby")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	r2, err := m.GetOrCreate("lobby")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if r1 != r2 {
		t.Error("Same key should resolve to the same room instance")
	}

	other, err := m.GetOrCreate("other")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if other == r1 {
		t.Error("Distinct keys should resolve to distinct rooms")
	}

	if stats := m.Stats(); stats["rooms"] != 2 {
		t.Errorf("Expected 2 rooms, got %d", stats["rooms"])
	}
}

func TestManager_ShutdownRefusesCreation(t *testing.T) {
	m := NewManager(context.Background(), newFakeLog(), allowAll, Options{})
	if _, err := m.GetOrCreate("lobby"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	m.Shutdown()
	// Idempotent.
	m.Shutdown()

	if _, err := m.GetOrCreate("late"); err != ErrManagerClosed {
		t.Errorf("Expected ErrManagerClosed after shutdown, got %v", err)
	}
}
