package room

import (
	"encoding/json"

	"typerace-backend/internal/database"
	"typerace-backend/internal/tasks"
)

// persist mirrors the teacher's saveToRedis: best-effort, logged but never
// fatal. Disabled entirely when database.RDB is nil (unit tests, or a
// deployment that opts out of persistence).
func (r *Room) persist() {
	if database.RDB == nil {
		return
	}

	r.mu.RLock()
	state := persistedState{
		State:          r.State,
		NumTasks:       r.NumTasks,
		IsPublic:       r.IsPublic,
		StartTime:      r.StartTime,
		CountdownStart: r.CountdownStart,
		FinishOrder:    append([]string(nil), r.finishOrder...),
	}
	snapshot := taskSnapshot(r.taskList)
	players := make([]Player, 0, len(r.players))
	for _, id := range r.order {
		if p, ok := r.players[id]; ok {
			players = append(players, *p)
		}
	}
	r.mu.RUnlock()

	_ = database.SaveGameState(r.ID, state)
	_ = database.SaveRoomTasks(r.ID, snapshot)
	for _, p := range players {
		_ = database.SavePlayer(r.ID, p.ID, p)
	}
	if !state.StartTime.IsZero() {
		_ = database.SaveTimerStart(r.ID, state.StartTime)
	}
}

func (r *Room) deletePersisted() {
	if database.RDB == nil {
		return
	}
	_ = database.DeleteRoom(r.ID)
}

// Restore rebuilds a room's in-memory state from Redis after a process
// restart (mirrors the teacher's loadFromRedis). Returns false if no
// persisted state exists for roomID.
func Restore(roomID string, onDestroy func(string)) (*Room, bool) {
	if database.RDB == nil {
		return nil, false
	}

	var state persistedState
	if err := database.LoadGameState(roomID, &state); err != nil {
		return nil, false
	}

	var taskList []tasks.Task
	_ = database.LoadRoomTasks(roomID, &taskList)

	rawPlayers, err := database.LoadAllPlayers(roomID)
	if err != nil {
		return nil, false
	}

	r := New(roomID, state.IsPublic, nil, onDestroy)
	r.State = state.State
	r.NumTasks = state.NumTasks
	r.StartTime = state.StartTime
	r.CountdownStart = state.CountdownStart
	r.finishOrder = append([]string(nil), state.FinishOrder...)
	r.taskList = taskList

	for playerID, raw := range rawPlayers {
		p := Player{ID: playerID}
		_ = json.Unmarshal([]byte(raw), &p)
		p.ID = playerID
		r.players[playerID] = &p
		r.order = append(r.order, playerID)
	}
	for _, id := range r.finishOrder {
		if p, ok := r.players[id]; ok {
			p.IsFinished = true
		}
	}

	return r, true
}
