// Command gameserver runs the game gateway: accepts websocket connections
// carrying a match ticket or a private room code, seats players into
// rooms, and dispatches race messages into the Room Manager (spec.md
// §4.E, §4.F). Grounded on the teacher's main.go/client.go for the router,
// CORS, and connection-handling shape.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"typerace-backend/internal/auth"
	"typerace-backend/internal/config"
	"typerace-backend/internal/database"
	"typerace-backend/internal/fabric"
	"typerace-backend/internal/gateway"
	"typerace-backend/internal/matchmaker"
	"typerace-backend/internal/protocol"
	"typerace-backend/internal/ratelimit"
	"typerace-backend/internal/room"
)

// fabricIdleGrace is the debounce window spec.md §9 specifies for the
// fabric-exit heuristic: "no rooms AND in fabric mode AND 5s debounce
// elapsed".
const fabricIdleGrace = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.RedisAddr != "" {
		if err := database.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, !cfg.Production); err != nil {
			log.Printf("gameserver: redis unavailable, running without persistence: %v", err)
		}
	}

	var fab fabric.Fabric
	if cfg.FabricEnabled() {
		fab = fabric.NewHathoraFabric(cfg.HathoraAppID, cfg.HathoraToken)
	} else {
		fab = fabric.NewLocalFabric("localhost", 3001)
	}

	var manager *room.Manager
	if cfg.FabricEnabled() {
		manager = room.NewManager(10, fab, func() { onRoomsEmpty(manager) })
	} else {
		manager = room.NewManager(10, fab, nil)
	}

	verifier := auth.NewVerifier(cfg.MatchTokenSecret, cfg.RequireAuth)
	connLimiter := ratelimit.NewConnectionLimiter(5, time.Minute)

	go runConnLimiterGC(connLimiter)

	router := mux.NewRouter()
	router.Use(gateway.CORS(cfg.FrontendOrigins))

	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handleGameSocket(w, r, manager, verifier, connLimiter, cfg)
	})

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"active_rooms": manager.Count()})
	})

	log.Println("game gateway starting")
	log.Printf("  websocket: ws://localhost:%s/ws", cfg.GamePort)
	log.Printf("  health:    http://localhost:%s/health", cfg.GamePort)

	server := &http.Server{Addr: ":" + cfg.GamePort, Handler: router}

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint
		log.Println("game gateway shutting down")
		os.Exit(0)
	}()

	log.Fatal(server.ListenAndServe())
}

// onRoomsEmpty fires when the registry transitions to empty; it exits the
// process after fabricIdleGrace if still empty, matching a fabric-hosted
// process's single-room lifetime (spec.md §4.G).
func onRoomsEmpty(manager *room.Manager) {
	time.AfterFunc(fabricIdleGrace, func() {
		if manager.Count() == 0 {
			log.Println("gameserver: no active rooms, exiting")
			os.Exit(0)
		}
	})
}

// runConnLimiterGC sweeps emptied IP entries every 30s so the 60s grace
// period spec.md §4.C requires actually gets enforced against wall-clock
// time, not just checked lazily on the next TryAcquire/Release.
func runConnLimiterGC(connLimiter *ratelimit.ConnectionLimiter) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		connLimiter.GC()
	}
}

type gameSession struct {
	session  *gateway.Session
	manager  *room.Manager
	playerID string
	name     string
	roomID   string
	rm       *room.Room
}

func handleGameSocket(w http.ResponseWriter, r *http.Request, manager *room.Manager, verifier *auth.Verifier, connLimiter *ratelimit.ConnectionLimiter, cfg *config.Config) {
	ip := ratelimit.ClientIP(r)
	if !connLimiter.TryAcquire(ip) {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := gateway.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		connLimiter.Release(ip)
		log.Printf("gameserver: upgrade failed: %v", err)
		return
	}

	playerID, err := verifier.Authenticate(r.URL.Query().Get("token"))
	if err != nil {
		conn.WriteMessage(1, protocol.Encode(protocol.EventError, map[string]string{"message": err.Error()}))
		conn.Close()
		connLimiter.Release(ip)
		return
	}

	name := r.URL.Query().Get("name")
	if result := auth.ValidateName(name); result.Valid {
		name = result.Value
	}

	gs := &gameSession{
		session:  gateway.NewSession(uuid.NewString(), conn),
		manager:  manager,
		playerID: playerID,
		name:     name,
	}

	limiter := ratelimit.NewMessageLimiter(20, 40)

	go gs.session.WritePump()
	gs.session.ReadPump(func(raw []byte) {
		if !limiter.Allow() {
			return
		}
		gs.handleMessage(raw, cfg)
	}, func() {
		if gs.rm != nil {
			gs.rm.UnregisterClient(gs.playerID)
			gs.rm.Leave(gs.playerID)
		}
		connLimiter.Release(ip)
	})
}

func (gs *gameSession) handleMessage(raw []byte, cfg *config.Config) {
	eventType, data, err := protocol.Decode(raw)
	if err != nil {
		return
	}

	switch eventType {
	case protocol.EventRoomCreate:
		roomID, _ := data["roomId"].(string)
		isPublic := auth.CoerceBool(data["isPublic"], false)

		var r *room.Room
		if roomID != "" {
			result := auth.ValidateRoomID(roomID)
			if !result.Valid {
				gs.session.SendEnvelope(protocol.Encode(protocol.EventRoomError, map[string]string{"message": result.Err}))
				return
			}
			r = gs.manager.GetOrCreate(result.Value, isPublic)
		} else {
			r = gs.manager.Create(isPublic)
		}

		gs.attach(r)
		gs.session.SendEnvelope(protocol.Encode(protocol.EventRoomCreated, map[string]interface{}{"roomId": gs.rm.ID}))

	case protocol.EventRoomJoin:
		rawRoomID, _ := data["roomId"].(string)

		var r *room.Room
		if rawRoomID == "" {
			// No roomId: a quick-match request that bypasses the
			// matchmaker entirely (spec.md §4.E's local/non-fabric path).
			r = gs.manager.FindOrCreateQuickMatchRoom()
		} else {
			result := auth.ValidateRoomID(rawRoomID)
			if !result.Valid {
				gs.session.SendEnvelope(protocol.Encode(protocol.EventRoomError, map[string]string{"message": result.Err}))
				return
			}
			var ok bool
			r, ok = gs.manager.Get(result.Value)
			if !ok {
				gs.session.SendEnvelope(protocol.Encode(protocol.EventRoomError, map[string]string{"message": "Room not found"}))
				return
			}
		}
		gs.joinRoom(r)

	case protocol.EventRoomJoinMatched:
		var matchedRoomID string

		if cfg.MatchTokenSecret == "" {
			// No shared secret configured: match:found carried no token
			// (spec.md §4.D), so the client echoes the bare roomId back.
			roomID, _ := data["roomId"].(string)
			result := auth.ValidateRoomID(roomID)
			if !result.Valid {
				gs.session.SendEnvelope(protocol.Encode(protocol.EventRoomError, map[string]string{"message": result.Err}))
				return
			}
			matchedRoomID = result.Value
		} else {
			token, _ := data["token"].(string)
			claims, err := matchmaker.VerifyTicket([]byte(cfg.MatchTokenSecret), token)
			if err != nil || claims.PlayerID != gs.playerID {
				gs.session.SendEnvelope(protocol.Encode(protocol.EventRoomError, map[string]string{"message": "Invalid or expired match ticket"}))
				return
			}
			matchedRoomID = claims.RoomID
		}

		// GetOrCreate, not Get-then-Create: both matched players carry
		// the same matchmaker-issued roomId, and whichever connects
		// first must seat the other in the same room rather than a
		// sibling one (spec.md §9's idempotent create-or-join
		// requirement).
		r := gs.manager.GetOrCreate(matchedRoomID, true)
		gs.joinRoom(r)

	case protocol.EventRoomLeave:
		if gs.rm != nil {
			gs.rm.Leave(gs.playerID)
			gs.rm.UnregisterClient(gs.playerID)
			gs.rm = nil
		}

	case protocol.EventPlayerReady:
		if gs.rm == nil {
			return
		}
		if err := gs.rm.Ready(gs.playerID); err != nil {
			gs.session.SendEnvelope(protocol.Encode(protocol.EventRoomError, map[string]string{"message": err.Error()}))
		}

	case protocol.EventPlayerCursor:
		if gs.rm == nil {
			return
		}
		offset, _ := data["offset"].(float64)
		result := auth.ValidateCursorOffset(int(offset))
		if result.Valid {
			gs.rm.HandleCursor(gs.playerID, result.Value)
		}

	case protocol.EventPlayerEditText:
		if gs.rm == nil {
			return
		}
		text, _ := data["text"].(string)
		result := auth.ValidateEditorText(text)
		if result.Valid {
			gs.rm.HandleEditorText(gs.playerID, result.Value)
		}

	case protocol.EventPlayerTaskDone:
		if gs.rm == nil {
			return
		}
		gs.rm.HandleTaskComplete(gs.playerID)

	case protocol.EventPing:
		gs.session.SendEnvelope(protocol.Encode(protocol.EventPong, nil))
	}
}

func (gs *gameSession) attach(r *room.Room) {
	gs.rm = r
	gs.roomID = r.ID
	r.RegisterClient(gs.playerID, gs.session.Send)
}

func (gs *gameSession) joinRoom(r *room.Room) {
	if err := r.Join(gs.playerID, gs.name); err != nil {
		gs.session.SendEnvelope(protocol.Encode(protocol.EventRoomError, map[string]string{"message": err.Error()}))
		return
	}
	gs.attach(r)
	gs.session.SendEnvelope(protocol.Encode(protocol.EventRoomJoined, map[string]interface{}{
		"roomId":  r.ID,
		"players": r.PlayersSnapshot(),
	}))
}
