// Package fabric abstracts the external room-host fabric spec.md §4.G
// names: something that can create a room, report its connection info
// once live, and accept best-effort lobby metadata updates.
package fabric

import (
	"context"
	"time"
)

// ConnectionStatus mirrors the fabric's room lifecycle while a room is
// still being placed on a host.
type ConnectionStatus string

const (
	StatusStarting ConnectionStatus = "starting"
	StatusActive   ConnectionStatus = "active"
)

// ConnectionInfo is what a client needs to dial a provisioned room.
type ConnectionInfo struct {
	Status ConnectionStatus
	Host   string
	Port   int
}

// RoomConfig carries whatever placement hints the fabric accepts; region
// is the only one spec.md names explicitly.
type RoomConfig struct {
	Region string
}

// LobbyState is the best-effort metadata a room reports about itself for
// matchmaking/lobby browsers (spec.md §4.G: "Lobby metadata is advisory").
type LobbyState struct {
	Status      string
	PlayerCount int
	MaxPlayers  int
}

// Fabric is the abstract interface any room-host backend must satisfy.
type Fabric interface {
	// CreateRoom provisions a new room and returns its fabric-assigned id.
	CreateRoom(ctx context.Context, cfg RoomConfig) (roomID string, err error)

	// GetConnectionInfo polls the fabric until the room is routable,
	// policy: up to MaxConnectionAttempts with spacing between
	// MinPollInterval and MaxPollInterval (spec.md §4.G).
	GetConnectionInfo(ctx context.Context, roomID string) (ConnectionInfo, error)

	// SetLobbyState is best-effort: failures are logged by the caller,
	// never propagated as a room-lifecycle error.
	SetLobbyState(ctx context.Context, roomID string, state LobbyState) error
}

// Polling policy for GetConnectionInfo (spec.md §4.G: "up to 15 attempts
// with 500-1500 ms spacing").
const (
	MaxConnectionAttempts = 15
	MinPollInterval       = 500 * time.Millisecond
	MaxPollInterval       = 1500 * time.Millisecond
)
