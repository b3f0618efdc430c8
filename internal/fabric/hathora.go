package fabric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HathoraFabric provisions rooms on Hathora's process-hosting API
// (spec.md §6 names HATHORA_APP_SECRET / HATHORA_APP_ID / HATHORA_TOKEN
// explicitly). No Hathora SDK appears anywhere in the retrieved example
// pack, so this thin client is built directly on net/http; see DESIGN.md.
type HathoraFabric struct {
	AppID   string
	Token   string
	BaseURL string
	Client  *http.Client
}

func NewHathoraFabric(appID, token string) *HathoraFabric {
	return &HathoraFabric{
		AppID:   appID,
		Token:   token,
		BaseURL: "https://api.hathora.dev",
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type createRoomRequest struct {
	Region string `json:"region"`
}

type createRoomResponse struct {
	RoomID string `json:"roomId"`
}

func (f *HathoraFabric) CreateRoom(ctx context.Context, cfg RoomConfig) (string, error) {
	body, err := json.Marshal(createRoomRequest{Region: cfg.Region})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/rooms/v2/%s/create", f.BaseURL, f.AppID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	f.authorize(req)

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fabric: create room request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("fabric: create room returned status %d", resp.StatusCode)
	}

	var out createRoomResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("fabric: failed to decode create room response: %w", err)
	}

	return out.RoomID, nil
}

type connectionInfoResponse struct {
	Status         string `json:"status"`
	ExposedPort    *struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"exposedPort"`
}

// GetConnectionInfo polls up to MaxConnectionAttempts times with spacing
// between MinPollInterval and MaxPollInterval (spec.md §4.G).
func (f *HathoraFabric) GetConnectionInfo(ctx context.Context, roomID string) (ConnectionInfo, error) {
	interval := MinPollInterval

	for attempt := 0; attempt < MaxConnectionAttempts; attempt++ {
		info, ready, err := f.fetchConnectionInfo(ctx, roomID)
		if err != nil {
			return ConnectionInfo{}, err
		}
		if ready {
			return info, nil
		}

		select {
		case <-ctx.Done():
			return ConnectionInfo{}, ctx.Err()
		case <-time.After(interval):
		}

		interval += 50 * time.Millisecond
		if interval > MaxPollInterval {
			interval = MaxPollInterval
		}
	}

	return ConnectionInfo{}, fmt.Errorf("fabric: room %s did not become active after %d attempts", roomID, MaxConnectionAttempts)
}

func (f *HathoraFabric) fetchConnectionInfo(ctx context.Context, roomID string) (ConnectionInfo, bool, error) {
	url := fmt.Sprintf("%s/rooms/v2/%s/connectioninfo/%s", f.BaseURL, f.AppID, roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ConnectionInfo{}, false, err
	}
	f.authorize(req)

	resp, err := f.Client.Do(req)
	if err != nil {
		return ConnectionInfo{}, false, fmt.Errorf("fabric: connection info request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return ConnectionInfo{}, false, nil
	}

	var out connectionInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ConnectionInfo{}, false, fmt.Errorf("fabric: failed to decode connection info: %w", err)
	}

	if out.Status != string(StatusActive) || out.ExposedPort == nil {
		return ConnectionInfo{}, false, nil
	}

	return ConnectionInfo{
		Status: StatusActive,
		Host:   out.ExposedPort.Host,
		Port:   out.ExposedPort.Port,
	}, true, nil
}

// SetLobbyState is best-effort: the caller logs but never propagates a
// failure from this call (spec.md §4.G).
func (f *HathoraFabric) SetLobbyState(ctx context.Context, roomID string, state LobbyState) error {
	body, err := json.Marshal(state)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/rooms/v2/%s/lobby/%s", f.BaseURL, f.AppID, roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	f.authorize(req)

	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("fabric: set lobby state returned status %d", resp.StatusCode)
	}

	return nil
}

func (f *HathoraFabric) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+f.Token)
	req.Header.Set("Content-Type", "application/json")
}
