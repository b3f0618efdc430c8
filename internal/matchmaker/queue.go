package matchmaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"typerace-backend/internal/fabric"
	"typerace-backend/internal/protocol"
)

// defaultRetryDelay is retryDelayMs's default (spec.md §4.D step 6): the
// debounce window before a failed group's re-queued players trigger
// another tryMatch pass. Distinct from the immediate, non-blocking
// tryMatch trigger Join fires when queue depth reaches playersPerMatch.
const defaultRetryDelay = 3 * time.Second

const provisionTimeout = 10 * time.Second

// requeueMessage is the literal error text spec.md §7/§8 requires for a
// fabric provisioning failure.
const requeueMessage = "Failed to create match, you have been re-queued"

// entry is one waiting player. Send delivers an already-encoded envelope
// to that player's websocket connection; it is supplied by the gateway and
// must never block (the gateway's writer owns backpressure).
type entry struct {
	PlayerID string
	Name     string
	Send     func([]byte)
}

// Queue is the FIFO matchmaking queue (spec.md §4.D). Grouping never holds
// Queue.mu while calling the fabric or signing tickets: tryMatch pops
// complete groups under the lock, then provisions each group's room
// concurrently and unlocked.
type Queue struct {
	mu      sync.Mutex
	waiting []*entry
	byID    map[string]*entry

	playersPerMatch int
	fab             fabric.Fabric
	secret          []byte
	ticketTTL       time.Duration
	region          string

	// retryDelay is defaultRetryDelay in production; tests shrink it to
	// keep the failure/re-queue path fast.
	retryDelay time.Duration
	retryTimer *time.Timer
}

func NewQueue(playersPerMatch int, fab fabric.Fabric, secret string, ticketTTL time.Duration) *Queue {
	return &Queue{
		byID:            make(map[string]*entry),
		playersPerMatch: playersPerMatch,
		fab:             fab,
		secret:          []byte(secret),
		ticketTTL:       ticketTTL,
		region:          "default",
		retryDelay:      defaultRetryDelay,
	}
}

// Join enqueues a player (spec.md §4.D: "rejects a player already
// queued"). Rejoining while already queued is a no-op, matching the
// gateway-level idempotence pattern used by room.Join. If queue depth
// reaches playersPerMatch, tryMatch runs non-blocking.
func (q *Queue) Join(playerID, name string, send func([]byte)) {
	q.mu.Lock()
	if _, exists := q.byID[playerID]; exists {
		q.mu.Unlock()
		return
	}

	e := &entry{PlayerID: playerID, Name: name, Send: send}
	q.waiting = append(q.waiting, e)
	q.byID[playerID] = e
	depth := len(q.waiting)
	q.mu.Unlock()

	send(protocol.Encode(protocol.EventQueueJoined, map[string]interface{}{"playerId": playerID}))

	if depth >= q.playersPerMatch {
		go q.tryMatch()
	}
}

// Leave removes a player from the queue if still waiting; a no-op if
// they've already been matched and popped.
func (q *Queue) Leave(playerID string) {
	q.mu.Lock()
	e, exists := q.byID[playerID]
	if !exists {
		q.mu.Unlock()
		return
	}
	delete(q.byID, playerID)
	for i, w := range q.waiting {
		if w == e {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			break
		}
	}
	q.mu.Unlock()

	e.Send(protocol.Encode(protocol.EventQueueLeft, map[string]interface{}{"playerId": playerID}))
}

// Len reports how many players are currently waiting, used by /metrics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// scheduleRetry debounces the retry-after-failure tryMatch pass: at most
// one pending retry timer at a time, firing after retryDelay (spec.md
// §4.D step 6).
func (q *Queue) scheduleRetry() {
	q.mu.Lock()
	if q.retryTimer != nil {
		q.mu.Unlock()
		return
	}
	delay := q.retryDelay
	q.retryTimer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		q.retryTimer = nil
		depth := len(q.waiting)
		q.mu.Unlock()

		if depth >= q.playersPerMatch {
			q.tryMatch()
		}
	})
	q.mu.Unlock()
}

// tryMatch pops every complete group currently available and provisions
// each one in its own goroutine, outside the queue lock.
func (q *Queue) tryMatch() {
	q.mu.Lock()
	var groups [][]*entry
	for len(q.waiting) >= q.playersPerMatch {
		group := append([]*entry(nil), q.waiting[:q.playersPerMatch]...)
		q.waiting = q.waiting[q.playersPerMatch:]
		for _, e := range group {
			delete(q.byID, e.PlayerID)
		}
		groups = append(groups, group)
	}
	q.mu.Unlock()

	for _, g := range groups {
		go q.provisionRoom(g)
	}
}

// provisionRoom creates a room for group via the fabric, resolves its
// connection info, and mints a match:found message for every member
// (spec.md §4.D step 5: `{roomId, connectionUrl, players[{id,name}],
// token?}`). Any fabric failure re-inserts the whole group at the queue
// tail and schedules a retry (step 6) rather than dropping the players.
func (q *Queue) provisionRoom(group []*entry) {
	ctx, cancel := context.WithTimeout(context.Background(), provisionTimeout)
	defer cancel()

	roomID, err := q.fab.CreateRoom(ctx, fabric.RoomConfig{Region: q.region})
	if err != nil {
		q.requeue(group)
		return
	}

	info, err := q.fab.GetConnectionInfo(ctx, roomID)
	if err != nil {
		q.requeue(group)
		return
	}
	connectionURL := fmt.Sprintf("ws://%s:%d/ws", info.Host, info.Port)

	players := make([]map[string]string, 0, len(group))
	for _, e := range group {
		players = append(players, map[string]string{"id": e.PlayerID, "name": e.Name})
	}

	for _, e := range group {
		payload := map[string]interface{}{
			"roomId":        roomID,
			"connectionUrl": connectionURL,
			"players":       players,
		}

		// The token is only minted when a shared secret is configured
		// (spec.md §4.D step 5); in dev mode with no secret, the game
		// gateway's room:join_matched accepts the bare roomId instead.
		if len(q.secret) > 0 {
			if token, err := SignTicket(q.secret, e.PlayerID, roomID, q.ticketTTL); err == nil {
				payload["token"] = token
			}
		}

		e.Send(protocol.Encode(protocol.EventMatchFound, payload))
	}
}

// requeue re-inserts group at the tail of the waiting list, notifies each
// member with the exact re-queue error text, and schedules a debounced
// retry (spec.md §4.D step 6, §8 scenario 6).
func (q *Queue) requeue(group []*entry) {
	q.mu.Lock()
	q.waiting = append(q.waiting, group...)
	for _, e := range group {
		q.byID[e.PlayerID] = e
	}
	q.mu.Unlock()

	for _, e := range group {
		e.Send(protocol.Encode(protocol.EventError, map[string]string{"message": requeueMessage}))
	}

	q.scheduleRetry()
}
