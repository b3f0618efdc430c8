package room

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"typerace-backend/internal/fabric"
	"typerace-backend/internal/tasks"
)

// lobbyUpdateTimeout bounds the best-effort SetLobbyState call a room's
// onFull hook makes; failures are logged, never propagated (spec.md §4.G).
const lobbyUpdateTimeout = 5 * time.Second

// Manager is the per-process room registry (spec.md §4.E's Room Manager).
// Grounded on the teacher's Hub, generalized from a single global room map
// with no quick-match concept to one that also answers
// FindOrCreateQuickMatchRoom for public rooms.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	order []string // insertion order, scanned by FindOrCreateQuickMatchRoom

	tasksPerRace int
	fab          fabric.Fabric
	onAllEmpty   func()
}

// NewManager builds an empty registry. tasksPerRace is the length of every
// room's generated task list (spec.md §4.A); fab, if non-nil, is the
// host-fabric adapter used to push lobby-state updates (spec.md §4.G);
// onAllEmpty, if non-nil, fires every time the registry transitions from
// non-empty to empty (used by fabric-mode process-exit-on-idle,
// DESIGN.md's Open Question decision 3).
func NewManager(tasksPerRace int, fab fabric.Fabric, onAllEmpty func()) *Manager {
	return &Manager{
		rooms:        make(map[string]*Room),
		tasksPerRace: tasksPerRace,
		fab:          fab,
		onAllEmpty:   onAllEmpty,
	}
}

func (m *Manager) generateTasks() ([]tasks.Task, int) {
	session := tasks.Generate(m.tasksPerRace, 0)
	return session.Tasks, session.NumTasks
}

// Create allocates a new room with a fresh id. Private rooms get a short,
// human-shareable code; public (quick-match) rooms get a longer
// internally-generated id, matching the two room-id shapes
// auth.ValidateRoomID accepts.
func (m *Manager) Create(isPublic bool) *Room {
	var id string
	if isPublic {
		id = generateRoomID()
	} else {
		id = generateShareCode()
	}
	return m.register(id, isPublic)
}

// GetOrCreate returns the existing room registered under id, or creates and
// registers one if none exists yet. This is what gives room:join_matched
// its idempotent create-or-join semantics (spec.md §9): whichever of the
// two matched players' game-socket connections arrives first creates the
// room under the matchmaker-issued id, and the second one joins it instead
// of minting a sibling room nobody else is in.
func (m *Manager) GetOrCreate(id string, isPublic bool) *Room {
	m.mu.Lock()
	if r, ok := m.rooms[id]; ok {
		m.mu.Unlock()
		return r
	}
	m.mu.Unlock()

	return m.register(id, isPublic)
}

// register builds a room under id and inserts it into the registry,
// tolerating a lost race against a concurrent GetOrCreate/Create for the
// same id by returning whichever room won.
func (m *Manager) register(id string, isPublic bool) *Room {
	r := New(id, isPublic, m.generateTasks, m.remove)
	if isPublic {
		r.onFull = m.lobbyFullHook(r)
	}

	m.mu.Lock()
	if existing, ok := m.rooms[id]; ok {
		m.mu.Unlock()
		return existing
	}
	m.rooms[id] = r
	m.order = append(m.order, id)
	m.mu.Unlock()

	r.ScheduleWaitingTimeout()

	return r
}

// lobbyFullHook returns the callback a public room fires each time a
// Join takes its last seat (spec.md §4.G: lobby metadata is
// updated "on second joiner in a public room"). The fabric call is
// best-effort and runs off the room's goroutine so it never blocks Join.
func (m *Manager) lobbyFullHook(r *Room) func() {
	return func() {
		if m.fab == nil {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), lobbyUpdateTimeout)
			defer cancel()

			state := fabric.LobbyState{Status: "full", PlayerCount: MaxPlayersPerRoom, MaxPlayers: MaxPlayersPerRoom}
			if err := m.fab.SetLobbyState(ctx, r.ID, state); err != nil {
				log.Printf("room manager: lobby state update failed for room %s: %v", r.ID, err)
			}
		}()
	}
}

// Get returns an existing room by id.
func (m *Manager) Get(roomID string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	return r, ok
}

// FindOrCreateQuickMatchRoom finds a waiting public room with an open seat,
// scanning rooms in creation order so the result is deterministic, or
// creates one if none exists (spec.md §4.E's local/non-fabric quick-match
// path).
func (m *Manager) FindOrCreateQuickMatchRoom() *Room {
	m.mu.RLock()
	for _, id := range m.order {
		r, ok := m.rooms[id]
		if !ok {
			continue
		}
		state, isPublic, count := r.Snapshot()
		if isPublic && state == StateWaiting && count < MaxPlayersPerRoom {
			m.mu.RUnlock()
			return r
		}
	}
	m.mu.RUnlock()

	return m.Create(true)
}

func (m *Manager) remove(roomID string) {
	m.mu.Lock()
	delete(m.rooms, roomID)
	for i, id := range m.order {
		if id == roomID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	empty := len(m.rooms) == 0
	m.mu.Unlock()

	if empty && m.onAllEmpty != nil {
		m.onAllEmpty()
	}
}

// Count reports the number of live rooms, used for the /metrics probe and
// the fabric-mode idle-exit timer.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func generateRoomID() string {
	buf := make([]byte, 5)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

const shareCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateShareCode() string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	code := make([]byte, 6)
	for i, b := range buf {
		code[i] = shareCodeAlphabet[int(b)%len(shareCodeAlphabet)]
	}
	return string(code)
}
