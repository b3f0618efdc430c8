// Package gateway holds the websocket connection plumbing shared by the
// matchmaking gateway and the game gateway: the upgrader, the per-socket
// send buffer, and the ping/pong read/write pumps. Grounded directly on
// the teacher's client.go (serveWs/readPump/writePump), generalized so
// both gateway binaries can reuse the same connection handling instead of
// each re-implementing it.
package gateway

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Upgrader accepts every origin. The CORS middleware in front of the
// upgrade only sets response headers and rejects no request, so no origin
// check is applied to websocket connections.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Session wraps one websocket connection with a buffered outbound channel
// and the teacher's ping/pong keepalive discipline.
type Session struct {
	ID   string
	conn *websocket.Conn
	Send chan []byte
}

func NewSession(id string, conn *websocket.Conn) *Session {
	return &Session{ID: id, conn: conn, Send: make(chan []byte, sendBufferSize)}
}

// ReadPump blocks reading frames off the connection and hands each one to
// onMessage, until the connection errors or closes; onClose runs exactly
// once, from this goroutine, when the loop exits.
func (s *Session) ReadPump(onMessage func([]byte), onClose func()) {
	defer func() {
		onClose()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("gateway: read error for session %s: %v", s.ID, err)
			}
			break
		}
		onMessage(message)
	}
}

// WritePump drains Send to the connection, coalescing queued messages into
// one frame per wakeup and sending keepalive pings on idle, matching the
// teacher's writePump.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.Send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(s.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-s.Send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendEnvelope enqueues an already-encoded message, dropping it if the
// session's buffer is full rather than blocking the caller.
func (s *Session) SendEnvelope(msg []byte) {
	select {
	case s.Send <- msg:
	default:
		log.Printf("gateway: dropping message for session %s, buffer full", s.ID)
	}
}
