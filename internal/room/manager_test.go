package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"typerace-backend/internal/fabric"
)

// recordingFabric only records SetLobbyState calls; CreateRoom/
// GetConnectionInfo are unused by the Manager and need not do anything
// useful here.
type recordingFabric struct {
	mu     sync.Mutex
	states []fabric.LobbyState
}

func (f *recordingFabric) CreateRoom(ctx context.Context, cfg fabric.RoomConfig) (string, error) {
	return "unused", nil
}

func (f *recordingFabric) GetConnectionInfo(ctx context.Context, roomID string) (fabric.ConnectionInfo, error) {
	return fabric.ConnectionInfo{}, nil
}

func (f *recordingFabric) SetLobbyState(ctx context.Context, roomID string, state fabric.LobbyState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	return nil
}

func (f *recordingFabric) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.states)
}

func TestGetOrCreateRegistersUnderCallerSuppliedID(t *testing.T) {
	m := NewManager(2, nil, nil)

	r1 := m.GetOrCreate("sharedroom", true)
	r2 := m.GetOrCreate("sharedroom", true)

	if r1 != r2 {
		t.Fatalf("expected both callers to land in the same room instance")
	}
	if r1.ID != "sharedroom" {
		t.Fatalf("expected room registered under the supplied id, got %q", r1.ID)
	}
	if got, ok := m.Get("sharedroom"); !ok || got != r1 {
		t.Fatalf("expected Get to find the room by its supplied id")
	}
}

func TestFindOrCreateQuickMatchRoomScansInInsertionOrder(t *testing.T) {
	m := NewManager(2, nil, nil)

	first := m.Create(true)
	_ = first.Join("p1", "Alice") // leaves one open seat

	second := m.Create(true)
	_ = second.Join("p2", "Bob") // also has one open seat

	found := m.FindOrCreateQuickMatchRoom()
	if found != first {
		t.Fatalf("expected the earliest-created open room to be selected, got room %s", found.ID)
	}
}

func TestFindOrCreateQuickMatchRoomCreatesWhenNoneOpen(t *testing.T) {
	m := NewManager(2, nil, nil)

	r := m.FindOrCreateQuickMatchRoom()
	if r == nil {
		t.Fatalf("expected a freshly created room")
	}
	if m.Count() != 1 {
		t.Fatalf("expected exactly one room in the registry, got %d", m.Count())
	}
}

func TestPublicRoomFillingPushesLobbyState(t *testing.T) {
	fab := &recordingFabric{}
	m := NewManager(2, fab, nil)

	r := m.Create(true)
	_ = r.Join("p1", "Alice")
	_ = r.Join("p2", "Bob")

	deadline := time.Now().Add(time.Second)
	for fab.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if fab.count() == 0 {
		t.Fatalf("expected SetLobbyState to be called once the room filled")
	}
}
