// Package room implements the Room Manager / Race Engine: a per-process
// registry of rooms, each with the waiting -> countdown -> racing ->
// finished state machine, authoritative task validation, rankings, and
// the lifecycle-timer family spec.md §4.E describes. Grounded on the
// teacher's Room (room.go): the same clients/broadcast-channel shape,
// the same timerCancel/timerDone/sync.Once triple for the countdown, and
// the same loadFromRedis/saveToRedis persistence pair, generalized from a
// hidden-role party game to a two-player typing race.
package room

import (
	"time"

	"typerace-backend/internal/tasks"
)

// State is the room-level state machine spec.md §4.E defines.
type State string

const (
	StateWaiting   State = "waiting"
	StateCountdown State = "countdown"
	StateRacing    State = "racing"
	StateFinished  State = "finished"
)

// MaxPlayersPerRoom bounds room membership (spec.md §3).
const MaxPlayersPerRoom = 2

// SuccessIndicator accumulates the inputs used to evaluate the player's
// current task (spec.md §3).
type SuccessIndicator struct {
	CursorOffset int    `json:"cursorOffset"`
	EditorText   string `json:"editorText"`
}

// Player is a room member's identity and per-race progress.
type Player struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	SuccessIndicator SuccessIndicator `json:"successIndicator"`
	TaskProgress     int              `json:"taskProgress"`
	ReadyToPlay      bool             `json:"readyToPlay"`
	IsFinished       bool             `json:"isFinished"`
	FinishTimeMs     int64            `json:"finishTime,omitempty"`
}

// RankingEntry is one row of a game:complete payload.
type RankingEntry struct {
	PlayerID string `json:"playerId"`
	TimeMs   int64  `json:"time"`
	Position int    `json:"position"`
}

// persistedState is the JSON shape saved to Redis (SPEC_FULL.md §4.E);
// the task corpus rolled per room is saved separately via SaveRoomTasks.
type persistedState struct {
	State          State     `json:"state"`
	NumTasks       int       `json:"numTasks"`
	IsPublic       bool      `json:"isPublic"`
	StartTime      time.Time `json:"startTime"`
	CountdownStart time.Time `json:"countdownStart"`
	FinishOrder    []string  `json:"finishOrder"`
}

func taskSnapshot(list []tasks.Task) []tasks.Task {
	out := make([]tasks.Task, len(list))
	copy(out, list)
	return out
}
