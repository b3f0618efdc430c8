// Package protocol defines the JSON wire envelope and event vocabulary
// shared by the matchmaking gateway and the game gateway (spec.md §4.F).
// Kept separate from both internal/room and internal/matchmaker so
// neither has to import the other just to speak the same envelope.
package protocol

import "encoding/json"

// Envelope is every message's shape: `{ type, ...payload }`, with the
// payload's fields merged into the envelope at the top level rather than
// nested under a "data" key (spec.md §6). Encode and Decode work on the
// flattened form directly and never populate Data.
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Encode marshals eventType and data's fields as one flat JSON object:
// `{"type": eventType, <data's fields>...}`. data must marshal to a JSON
// object (a struct or map) or be nil; every call site in this codebase
// does. The (theoretically impossible, given that constraint) marshal
// error is swallowed into a minimal payload so callers never need to
// branch on it.
func Encode(eventType string, data interface{}) []byte {
	merged := map[string]json.RawMessage{}

	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			_ = json.Unmarshal(raw, &merged)
		}
	}

	typeField, _ := json.Marshal(eventType)
	merged["type"] = typeField

	out, err := json.Marshal(merged)
	if err != nil {
		out, _ = json.Marshal(map[string]string{"type": eventType})
	}
	return out
}

// Decode unpacks a flat envelope into its event type and field map. A
// JSON null decodes to a nil data map; any other non-object input is
// returned as an error.
func Decode(raw []byte) (eventType string, data map[string]interface{}, err error) {
	var msg map[string]interface{}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", nil, err
	}
	eventType, _ = msg["type"].(string)
	return eventType, msg, nil
}

// Client -> server event types.
const (
	EventQueueJoin       = "queue:join"
	EventQueueLeave      = "queue:leave"
	EventPing            = "ping"
	EventRoomCreate      = "room:create"
	EventRoomJoin        = "room:join"
	EventRoomJoinMatched = "room:join_matched"
	EventRoomLeave       = "room:leave"
	EventPlayerReady     = "player:ready_to_play"
	EventPlayerCursor    = "player:cursor"
	EventPlayerEditText  = "player:editorText"
	EventPlayerTaskDone  = "player:task_complete"
)

// Server -> client event types.
const (
	EventError                  = "error"
	EventQueueJoined            = "queue:joined"
	EventQueueLeft              = "queue:left"
	EventPong                   = "pong"
	EventMatchFound             = "match:found"
	EventRoomCreated            = "room:created"
	EventRoomJoined             = "room:joined"
	EventRoomPlayerJoined       = "room:player_joined"
	EventRoomPlayerLeft         = "room:player_left"
	EventRoomPlayerReady        = "room:player_ready"
	EventRoomReset              = "room:reset"
	EventRoomError              = "room:error"
	EventGameCountdown          = "game:countdown"
	EventGameStart              = "game:start"
	EventGamePlayerFinishedTask = "game:player_finished_task"
	EventGameOpponentFinished   = "game:opponent_finished_task"
	EventGamePlayerFinished     = "game:player_finished"
	EventGameComplete           = "game:complete"
	EventGameValidationFailed   = "game:validation_failed"
)
