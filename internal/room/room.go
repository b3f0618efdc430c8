package room

import (
	"errors"
	"sort"
	"sync"
	"time"

	"typerace-backend/internal/protocol"
	"typerace-backend/internal/tasks"
)

// Errors surfaced to clients via room:error (spec.md §7).
var (
	ErrRoomFull       = errors.New("Room is full")
	ErrRaceInProgress = errors.New("Race already in progress")
	ErrRequeue        = errors.New("Please requeue for a new match")
)

const (
	publicWaitingTimeout  = 30 * time.Second
	privateWaitingTimeout = 5 * time.Minute
	publicPostRaceDelay   = 3 * time.Second
	privateRematchIdle    = 5 * time.Minute
)

// Room is a race container: up to MaxPlayersPerRoom players, a task list,
// a state, and a family of cancellable lifecycle timers. Grounded on the
// teacher's Room (room.go), generalized from Mafia's phase machine to the
// race's waiting/countdown/racing/finished machine.
type Room struct {
	ID       string
	IsPublic bool

	mu      sync.RWMutex
	order   []string
	players map[string]*Player
	clients map[string]chan []byte

	taskList []tasks.Task
	NumTasks int

	State          State
	StartTime      time.Time
	CountdownStart time.Time
	finishOrder    []string

	timers map[string]*cancellableTimer

	// generateTasks produces a fresh task list for the initial race and
	// for every private-room rematch (spec.md §4.A: "consulted at room
	// creation and at rematch reset").
	generateTasks func() ([]tasks.Task, int)

	// onDestroy notifies the owning Manager so the room is dropped from
	// the registry; persist is the Redis save hook (persistence.go).
	onDestroy func(roomID string)

	// onFull is set by the Manager and fires, outside the lock, each time
	// a Join seats a public room's last player (spec.md §4.E/§4.G: the
	// fabric's lobby metadata is updated "on second joiner in a public
	// room"). Private rooms never set it.
	onFull func()
}

// New constructs a waiting-state room with no players yet.
func New(id string, isPublic bool, generateTasks func() ([]tasks.Task, int), onDestroy func(string)) *Room {
	return &Room{
		ID:            id,
		IsPublic:      isPublic,
		players:       make(map[string]*Player),
		clients:       make(map[string]chan []byte),
		timers:        make(map[string]*cancellableTimer),
		State:         StateWaiting,
		generateTasks: generateTasks,
		onDestroy:     onDestroy,
	}
}

// ScheduleWaitingTimeout starts the room's creation-grace timer: public
// rooms get 30s, private rooms get 5 minutes (spec.md §4.E).
func (r *Room) ScheduleWaitingTimeout() {
	d := privateWaitingTimeout
	if r.IsPublic {
		d = publicWaitingTimeout
	}

	r.mu.Lock()
	r.startTimer(timerWaiting, d, func() { r.Destroy("Room closed due to inactivity") })
	r.mu.Unlock()
}

// RegisterClient attaches a playerID's outbound channel so room broadcasts
// can reach it; the gateway owns the channel's lifetime.
func (r *Room) RegisterClient(playerID string, ch chan []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[playerID] = ch
}

func (r *Room) UnregisterClient(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, playerID)
}

// Join adds a player to a waiting room (spec.md §4.E). Joining twice with
// the same id is a no-op (room:join_matched idempotence, spec.md §8).
func (r *Room) Join(playerID, name string) error {
	r.mu.Lock()

	if _, exists := r.players[playerID]; exists {
		r.mu.Unlock()
		return nil
	}

	if r.State != StateWaiting {
		r.mu.Unlock()
		return ErrRaceInProgress
	}
	if len(r.players) >= MaxPlayersPerRoom {
		r.mu.Unlock()
		return ErrRoomFull
	}

	r.players[playerID] = &Player{ID: playerID, Name: name}
	r.order = append(r.order, playerID)
	justFilled := r.IsPublic && len(r.players) == MaxPlayersPerRoom
	r.mu.Unlock()

	r.broadcastExcept(playerID, protocol.Encode(protocol.EventRoomPlayerJoined, map[string]interface{}{
		"playerId": playerID,
		"name":     name,
	}))

	if justFilled && r.onFull != nil {
		r.onFull()
	}

	return nil
}

// Ready marks a player ready to play (spec.md §4.E). When every seat is
// ready, the room cancels its waiting/rematch timers, resets per-player
// progress, regenerates the task list on a rematch, and starts the
// countdown.
func (r *Room) Ready(playerID string) error {
	r.mu.Lock()

	if r.IsPublic && r.State == StateFinished {
		r.mu.Unlock()
		return ErrRequeue
	}

	player, ok := r.players[playerID]
	if !ok {
		r.mu.Unlock()
		return nil
	}

	player.ReadyToPlay = true

	allReady := len(r.players) == MaxPlayersPerRoom
	for _, p := range r.players {
		if !p.ReadyToPlay {
			allReady = false
			break
		}
	}

	if !allReady {
		r.mu.Unlock()
		r.broadcastAll(protocol.Encode(protocol.EventRoomPlayerReady, map[string]interface{}{"playerId": playerID}))
		return nil
	}

	wasFinished := r.State == StateFinished

	r.cancelTimer(timerWaiting)
	r.cancelTimer(timerRematchIdle)

	if wasFinished && r.generateTasks != nil {
		newTasks, numTasks := r.generateTasks()
		r.taskList = newTasks
		r.NumTasks = numTasks
	}

	for _, p := range r.players {
		p.SuccessIndicator = SuccessIndicator{}
		p.TaskProgress = 0
		p.IsFinished = false
		p.FinishTimeMs = 0
	}
	r.finishOrder = nil
	r.State = StateCountdown
	r.CountdownStart = time.Now()

	r.mu.Unlock()

	if wasFinished {
		r.broadcastAll(protocol.Encode(protocol.EventRoomReset, map[string]interface{}{"players": r.PlayersSnapshot()}))
	}
	r.broadcastAll(protocol.Encode(protocol.EventRoomPlayerReady, map[string]interface{}{"playerId": playerID}))

	r.runCountdown()

	return nil
}

// runCountdown emits game:countdown{3,2,1,0} at one-second cadence, then
// transitions to racing and emits game:start (spec.md §4.E). The only
// legal interruption is a player leaving (handled in Leave).
func (r *Room) runCountdown() {
	r.mu.Lock()
	t := newCancellableTimer()
	r.timers[timerCountdown] = t
	r.mu.Unlock()

	go func() {
		defer close(t.done)

		seconds := 3
		r.broadcastAll(protocol.Encode(protocol.EventGameCountdown, map[string]interface{}{"seconds": seconds}))

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				seconds--
				if seconds == -1 {
					r.startRace()
					return
				}
				r.broadcastAll(protocol.Encode(protocol.EventGameCountdown, map[string]interface{}{"seconds": seconds}))
			case <-t.cancel:
				return
			}
		}
	}()
}

func (r *Room) startRace() {
	r.mu.Lock()
	r.State = StateRacing
	r.StartTime = time.Now()
	var initialTask *tasks.Task
	if len(r.taskList) > 0 {
		first := r.taskList[0]
		initialTask = &first
	}
	numTasks := r.NumTasks
	r.mu.Unlock()

	r.persist()

	r.broadcastAll(protocol.Encode(protocol.EventGameStart, map[string]interface{}{
		"startTime":   r.StartTime.UnixMilli(),
		"initialTask": initialTask,
		"num_tasks":   numTasks,
	}))
}

// HandleCursor implements the Navigate task's completion rule (spec.md
// §4.E): ignored unless racing and the current task is navigate.
func (r *Room) HandleCursor(playerID string, offset int) {
	r.mu.Lock()

	if r.State != StateRacing {
		r.mu.Unlock()
		return
	}
	player, ok := r.players[playerID]
	if !ok || player.IsFinished {
		r.mu.Unlock()
		return
	}
	task, ok := r.currentTaskLocked(player)
	if !ok || task.Kind != tasks.KindNavigate {
		r.mu.Unlock()
		return
	}

	player.SuccessIndicator.CursorOffset = offset
	advance := offset == task.TargetOffset
	r.mu.Unlock()

	if advance {
		r.advancePlayerTask(playerID)
	}
}

// HandleEditorText implements the Delete task's completion and
// partial-edit invariant (spec.md §3, §4.E).
func (r *Room) HandleEditorText(playerID string, text string) {
	r.mu.Lock()

	if r.State != StateRacing {
		r.mu.Unlock()
		return
	}
	player, ok := r.players[playerID]
	if !ok || player.IsFinished {
		r.mu.Unlock()
		return
	}
	task, ok := r.currentTaskLocked(player)
	if !ok || task.Kind != tasks.KindDelete {
		r.mu.Unlock()
		return
	}

	player.SuccessIndicator.EditorText = text

	if text == task.ExpectedResult {
		r.mu.Unlock()
		r.advancePlayerTask(playerID)
		return
	}

	valid := tasks.ValidatePartialEdit(task.CodeSnippet, task.TargetRange, text)
	r.mu.Unlock()

	if !valid {
		r.sendTo(playerID, protocol.Encode(protocol.EventGameValidationFailed, map[string]interface{}{"playerId": playerID}))
	}
}

// HandleTaskComplete re-checks the player's current success indicator
// against their current task and advances if it already matches. It is
// the idempotent safety net backing the player:task_complete event
// (spec.md §4.F); normal advancement happens through HandleCursor/
// HandleEditorText, so this never duplicates an advance.
func (r *Room) HandleTaskComplete(playerID string) {
	r.mu.Lock()
	if r.State != StateRacing {
		r.mu.Unlock()
		return
	}
	player, ok := r.players[playerID]
	if !ok || player.IsFinished {
		r.mu.Unlock()
		return
	}
	task, ok := r.currentTaskLocked(player)
	if !ok {
		r.mu.Unlock()
		return
	}

	var advance bool
	switch task.Kind {
	case tasks.KindNavigate:
		advance = player.SuccessIndicator.CursorOffset == task.TargetOffset
	case tasks.KindDelete:
		advance = player.SuccessIndicator.EditorText == task.ExpectedResult
	}
	r.mu.Unlock()

	if advance {
		r.advancePlayerTask(playerID)
	}
}

// currentTaskLocked returns the task at player.TaskProgress. Caller must
// hold r.mu.
func (r *Room) currentTaskLocked(player *Player) (tasks.Task, bool) {
	if player.TaskProgress < 0 || player.TaskProgress >= len(r.taskList) {
		return tasks.Task{}, false
	}
	return r.taskList[player.TaskProgress], true
}

// advancePlayerTask implements spec.md §4.E's advancePlayerTask: bump
// progress, reset the editor-text accumulator, notify the player and the
// room, and finish/end the race when appropriate.
func (r *Room) advancePlayerTask(playerID string) {
	r.mu.Lock()

	player, ok := r.players[playerID]
	if !ok {
		r.mu.Unlock()
		return
	}

	player.TaskProgress++
	player.SuccessIndicator.EditorText = ""
	progress := player.TaskProgress

	var newTask *tasks.Task
	finished := progress >= r.NumTasks

	var finishTimeMs int64
	var position int

	if finished {
		player.IsFinished = true
		finishTimeMs = time.Since(r.StartTime).Milliseconds()
		player.FinishTimeMs = finishTimeMs
		r.finishOrder = append(r.finishOrder, playerID)
		position = len(r.finishOrder)
	} else if progress < len(r.taskList) {
		t := r.taskList[progress]
		newTask = &t
	}

	allFinished := true
	for _, p := range r.players {
		if !p.IsFinished {
			allFinished = false
			break
		}
	}

	r.mu.Unlock()

	r.sendTo(playerID, protocol.Encode(protocol.EventGamePlayerFinishedTask, map[string]interface{}{
		"playerId":     playerID,
		"taskProgress": progress,
		"newTask":      newTask,
	}))
	r.broadcastAll(protocol.Encode(protocol.EventGameOpponentFinished, map[string]interface{}{
		"playerId":     playerID,
		"taskProgress": progress,
	}))

	if finished {
		r.broadcastAll(protocol.Encode(protocol.EventGamePlayerFinished, map[string]interface{}{
			"playerId": playerID,
			"time":     finishTimeMs,
			"position": position,
		}))
	}

	if allFinished {
		r.endRace()
	}
}

// Leave removes a player from the room (spec.md §4.E, §5: "Client close
// on the game socket is treated as room:leave"). A departure during
// countdown or racing promotes the room straight to finished.
func (r *Room) Leave(playerID string) {
	r.mu.Lock()

	_, ok := r.players[playerID]
	if !ok {
		r.mu.Unlock()
		return
	}

	delete(r.clients, playerID)
	raceActive := r.State == StateRacing || r.State == StateCountdown

	if raceActive {
		r.cancelTimer(timerCountdown)
		r.mu.Unlock()

		r.endRace()
		r.broadcastAll(protocol.Encode(protocol.EventRoomPlayerLeft, map[string]interface{}{"playerId": playerID}))
		return
	}

	delete(r.players, playerID)
	r.removeFromOrderLocked(playerID)
	remaining := len(r.players)
	r.mu.Unlock()

	r.broadcastAll(protocol.Encode(protocol.EventRoomPlayerLeft, map[string]interface{}{"playerId": playerID}))

	if remaining == 0 {
		r.Destroy("Room closed due to inactivity")
	}
}

func (r *Room) removeFromOrderLocked(playerID string) {
	for i, id := range r.order {
		if id == playerID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// endRace transitions to finished exactly once (spec.md §8: "endRace is
// emitted at most once per race"), computes rankings, persists, and
// schedules the public-destroy or private-rematch-idle timer.
func (r *Room) endRace() {
	r.mu.Lock()
	if r.State == StateFinished {
		r.mu.Unlock()
		return
	}
	r.State = StateFinished
	rankings := r.computeRankingsLocked()
	r.mu.Unlock()

	r.persist()
	r.broadcastAll(protocol.Encode(protocol.EventGameComplete, map[string]interface{}{"rankings": rankings}))

	r.mu.Lock()
	if r.IsPublic {
		r.startTimer(timerPostRace, publicPostRaceDelay, func() { r.Destroy("race complete") })
	} else {
		r.startTimer(timerRematchIdle, privateRematchIdle, func() { r.Destroy("Room closed due to inactivity") })
	}
	r.mu.Unlock()
}

// computeRankingsLocked implements spec.md §4.E's Rankings rule. Caller
// must hold r.mu.
func (r *Room) computeRankingsLocked() []RankingEntry {
	entries := make([]RankingEntry, 0, len(r.order))
	finishedSet := make(map[string]bool, len(r.finishOrder))

	for _, id := range r.finishOrder {
		finishedSet[id] = true
		if p, ok := r.players[id]; ok {
			entries = append(entries, RankingEntry{PlayerID: id, TimeMs: p.FinishTimeMs})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].TimeMs < entries[j].TimeMs })

	for i := range entries {
		entries[i].Position = i + 1
	}

	position := len(entries)
	for _, id := range r.order {
		if finishedSet[id] {
			continue
		}
		position++
		entries = append(entries, RankingEntry{PlayerID: id, TimeMs: 0, Position: position})
	}

	return entries
}

// Destroy cancels every timer, notifies the owning Manager, and deletes
// persisted state.
func (r *Room) Destroy(reason string) {
	r.mu.Lock()
	for name, t := range r.timers {
		t.Cancel()
		delete(r.timers, name)
	}
	r.mu.Unlock()

	if r.onDestroy != nil {
		r.onDestroy(r.ID)
	}

	r.deletePersisted()
}

// Snapshot reports the fields FindOrCreateQuickMatchRoom needs without
// exposing the room's lock.
func (r *Room) Snapshot() (state State, isPublic bool, playerCount int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.State, r.IsPublic, len(r.players)
}

// PlayersSnapshot copies the current player list in join order.
func (r *Room) PlayersSnapshot() []Player {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Player, 0, len(r.order))
	for _, id := range r.order {
		if p, ok := r.players[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}

func (r *Room) sendTo(playerID string, msg []byte) {
	r.mu.RLock()
	ch, ok := r.clients[playerID]
	r.mu.RUnlock()

	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
	}
}

func (r *Room) broadcastExcept(actorID string, msg []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, ch := range r.clients {
		if id == actorID {
			continue
		}
		select {
		case ch <- msg:
		default:
		}
	}
}

func (r *Room) broadcastAll(msg []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ch := range r.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}
