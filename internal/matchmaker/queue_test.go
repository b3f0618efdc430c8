package matchmaker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"typerace-backend/internal/fabric"
	"typerace-backend/internal/protocol"
)

// flakyFabric fails CreateRoom failCount times before succeeding, to
// exercise the provisioning-failure re-queue path.
type flakyFabric struct {
	mu        sync.Mutex
	failCount int
	calls     int
}

func (f *flakyFabric) CreateRoom(ctx context.Context, cfg fabric.RoomConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failCount {
		return "", errors.New("fabric unavailable")
	}
	return "room-retry", nil
}

func (f *flakyFabric) GetConnectionInfo(ctx context.Context, roomID string) (fabric.ConnectionInfo, error) {
	return fabric.ConnectionInfo{Status: fabric.StatusActive, Host: "localhost", Port: 3001}, nil
}

func (f *flakyFabric) SetLobbyState(ctx context.Context, roomID string, state fabric.LobbyState) error {
	return nil
}

func decodeFields(t *testing.T, msg []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	return m
}

func collect(t *testing.T, n int) (func([]byte), func() []protocol.Envelope) {
	t.Helper()
	var mu sync.Mutex
	var events []protocol.Envelope

	send := func(msg []byte) {
		var env protocol.Envelope
		_ = json.Unmarshal(msg, &env)
		mu.Lock()
		events = append(events, env)
		mu.Unlock()
	}

	return send, func() []protocol.Envelope {
		mu.Lock()
		defer mu.Unlock()
		return append([]protocol.Envelope(nil), events...)
	}
}

func TestJoinTwoPlayersYieldsMatchFound(t *testing.T) {
	q := NewQueue(2, fabric.NewLocalFabric("localhost", 3001), "test-secret", time.Minute)

	send1, get1 := collect(t, 2)
	send2, get2 := collect(t, 2)

	q.Join("p1", "Alice", send1)
	q.Join("p2", "Bob", send2)

	time.Sleep(200 * time.Millisecond)

	found := false
	for _, e := range get1() {
		if e.Type == protocol.EventMatchFound {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected match:found for p1, got %+v", get1())
	}

	found = false
	for _, e := range get2() {
		if e.Type == protocol.EventMatchFound {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected match:found for p2, got %+v", get2())
	}
}

func TestLeaveRemovesFromQueue(t *testing.T) {
	q := NewQueue(2, fabric.NewLocalFabric("localhost", 3001), "test-secret", time.Minute)
	send, get := collect(t, 1)

	q.Join("p1", "Alice", send)
	q.Leave("p1")

	if q.Len() != 0 {
		t.Fatalf("expected empty queue after leave, got %d", q.Len())
	}

	left := false
	for _, e := range get() {
		if e.Type == protocol.EventQueueLeft {
			left = true
		}
	}
	if !left {
		t.Fatalf("expected queue:left event, got %+v", get())
	}
}

func TestJoinSameSinglePlayerTwiceDoesNotDoubleQueue(t *testing.T) {
	q := NewQueue(2, fabric.NewLocalFabric("localhost", 3001), "test-secret", time.Minute)
	send, _ := collect(t, 1)

	q.Join("p1", "Alice", send)
	q.Join("p1", "Alice", send)

	if q.Len() != 1 {
		t.Fatalf("expected queue length 1 after duplicate join, got %d", q.Len())
	}
}

func TestProvisionFailureRequeuesAtTailWithExactErrorAndRetries(t *testing.T) {
	fab := &flakyFabric{failCount: 1}
	q := NewQueue(2, fab, "test-secret", time.Minute)
	q.retryDelay = 30 * time.Millisecond

	var mu sync.Mutex
	var raw1, raw2 [][]byte
	send1 := func(msg []byte) { mu.Lock(); raw1 = append(raw1, msg); mu.Unlock() }
	send2 := func(msg []byte) { mu.Lock(); raw2 = append(raw2, msg); mu.Unlock() }

	q.Join("p1", "Alice", send1)
	q.Join("p2", "Bob", send2)

	time.Sleep(250 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	sawRequeueError := false
	sawMatchFound := false
	for _, msg := range raw1 {
		fields := decodeFields(t, msg)
		switch fields["type"] {
		case protocol.EventError:
			if fields["message"] != requeueMessage {
				t.Fatalf("unexpected error message: %v", fields["message"])
			}
			sawRequeueError = true
		case protocol.EventMatchFound:
			sawMatchFound = true
		}
	}
	if !sawRequeueError {
		t.Fatalf("expected a re-queue error event for p1, got %+v", raw1)
	}
	if !sawMatchFound {
		t.Fatalf("expected match:found for p1 after the retry succeeded, got %+v", raw1)
	}

	if q.Len() != 0 {
		t.Fatalf("expected queue drained after successful retry, got %d", q.Len())
	}
}

func TestSignAndVerifyTicketRoundTrip(t *testing.T) {
	token, err := SignTicket([]byte("secret"), "p1", "room1", time.Minute)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	claims, err := VerifyTicket([]byte("secret"), token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if claims.PlayerID != "p1" || claims.RoomID != "room1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyTicketWrongSecretFails(t *testing.T) {
	token, err := SignTicket([]byte("secret"), "p1", "room1", time.Minute)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if _, err := VerifyTicket([]byte("other"), token); err == nil {
		t.Fatalf("expected verification to fail with wrong secret")
	}
}
