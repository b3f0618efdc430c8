// Package database persists room and player state to Redis so a restarted
// process (or, in fabric mode, a freshly placed room process) can recover
// in-flight state. Grounded directly on the teacher's database/redis.go
// key-naming and save/load shape, generalized from the Mafia game state to
// the race room state.
package database

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ctx = context.Background()
	// RDB is the shared client, initialized by InitRedis.
	RDB *redis.Client
)

// InitRedis connects to Redis, enabling TLS unless isDev is set or the
// address is clearly local or a Docker-internal hostname (mirrors the
// teacher's heuristic).
func InitRedis(addr, password string, db int, isDev bool) error {
	options := &redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}

	isLocal := strings.Contains(addr, "localhost") || strings.Contains(addr, "127.0.0.1") || strings.Contains(addr, "redis")

	if !isDev && !isLocal {
		options.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	RDB = redis.NewClient(options)

	if err := RDB.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}

	return nil
}

func RoomStateKey(roomID string) string   { return fmt.Sprintf("room:%s:state", roomID) }
func RoomPlayersKey(roomID string) string { return fmt.Sprintf("room:%s:players", roomID) }
func RoomTimerKey(roomID string) string   { return fmt.Sprintf("room:%s:timer_start", roomID) }
func RoomTasksKey(roomID string) string   { return fmt.Sprintf("room:%s:tasks", roomID) }

// SaveGameState persists an arbitrary JSON-serializable room snapshot.
func SaveGameState(roomID string, state interface{}) error {
	jsonData, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal game state: %w", err)
	}

	if err := RDB.Set(ctx, RoomStateKey(roomID), jsonData, time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to save game state: %w", err)
	}

	return nil
}

func LoadGameState(roomID string, target interface{}) error {
	jsonData, err := RDB.Get(ctx, RoomStateKey(roomID)).Result()
	if err == redis.Nil {
		return fmt.Errorf("game state not found")
	}
	if err != nil {
		return fmt.Errorf("failed to load game state: %w", err)
	}

	if err := json.Unmarshal([]byte(jsonData), target); err != nil {
		return fmt.Errorf("failed to unmarshal game state: %w", err)
	}

	return nil
}

// SaveRoomTasks persists the room's generated task list so a process
// restart can still validate in-flight progress (SPEC_FULL.md §4.E).
func SaveRoomTasks(roomID string, tasks interface{}) error {
	jsonData, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}

	return RDB.Set(ctx, RoomTasksKey(roomID), jsonData, time.Hour).Err()
}

func LoadRoomTasks(roomID string, target interface{}) error {
	jsonData, err := RDB.Get(ctx, RoomTasksKey(roomID)).Result()
	if err == redis.Nil {
		return fmt.Errorf("tasks not found")
	}
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	return json.Unmarshal([]byte(jsonData), target)
}

// SavePlayer stores a single player under the room's player hash, keyed by
// player id.
func SavePlayer(roomID, playerID string, player interface{}) error {
	jsonData, err := json.Marshal(player)
	if err != nil {
		return fmt.Errorf("failed to marshal player: %w", err)
	}

	if err := RDB.HSet(ctx, RoomPlayersKey(roomID), playerID, jsonData).Err(); err != nil {
		return fmt.Errorf("failed to save player: %w", err)
	}

	RDB.Expire(ctx, RoomPlayersKey(roomID), time.Hour)

	return nil
}

func LoadAllPlayers(roomID string) (map[string]string, error) {
	return RDB.HGetAll(ctx, RoomPlayersKey(roomID)).Result()
}

func DeletePlayer(roomID, playerID string) error {
	return RDB.HDel(ctx, RoomPlayersKey(roomID), playerID).Err()
}

func SaveTimerStart(roomID string, startTime time.Time) error {
	return RDB.Set(ctx, RoomTimerKey(roomID), startTime.Unix(), time.Hour).Err()
}

func LoadTimerStart(roomID string) (time.Time, error) {
	unixTime, err := RDB.Get(ctx, RoomTimerKey(roomID)).Int64()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(unixTime, 0), nil
}

// DeleteRoom removes every key associated with a destroyed room.
func DeleteRoom(roomID string) error {
	keys := []string{
		RoomStateKey(roomID),
		RoomPlayersKey(roomID),
		RoomTimerKey(roomID),
		RoomTasksKey(roomID),
	}

	return RDB.Del(ctx, keys...).Err()
}

// GetActiveRooms lists room ids with live persisted state.
func GetActiveRooms() ([]string, error) {
	keys, err := RDB.Keys(ctx, "room:*:state").Result()
	if err != nil {
		return nil, err
	}

	rooms := make([]string, 0, len(keys))
	for _, key := range keys {
		parts := strings.Split(key, ":")
		if len(parts) >= 2 {
			rooms = append(rooms, parts[1])
		}
	}

	return rooms, nil
}
