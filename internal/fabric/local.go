package fabric

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

// LocalFabric is the "Local-only mode" spec.md §4.G describes: it
// synthesizes a room id and reports the gateway's own address immediately,
// with no external round trip. Grounded on
// FenixDeveloper-vector-racer-v2/internal/matchmaker's generateRoomID.
type LocalFabric struct {
	// SelfHost/SelfPort are the game gateway's own address, returned as
	// the connection info for every room.
	SelfHost string
	SelfPort int
}

func NewLocalFabric(host string, port int) *LocalFabric {
	return &LocalFabric{SelfHost: host, SelfPort: port}
}

func (f *LocalFabric) CreateRoom(ctx context.Context, cfg RoomConfig) (string, error) {
	return generateRoomID(), nil
}

func (f *LocalFabric) GetConnectionInfo(ctx context.Context, roomID string) (ConnectionInfo, error) {
	return ConnectionInfo{Status: StatusActive, Host: f.SelfHost, Port: f.SelfPort}, nil
}

func (f *LocalFabric) SetLobbyState(ctx context.Context, roomID string, state LobbyState) error {
	return nil
}

func generateRoomID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
