// Command matchmaker runs the matchmaking gateway: a FIFO queue that
// groups waiting players and hands each one a signed ticket for the game
// gateway (spec.md §4.D). Grounded on the teacher's main.go for its router
// setup, CORS middleware, and graceful-shutdown shape.
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
	"typerace-backend/internal/fabric"
	"typerace-backend/internal/gateway"
	"typerace-backend/internal/matchmaker"
	"typerace-backend/internal/protocol"
	"typerace-backend/internal/ratelimit"
	"typerace-backend/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var fab fabric.Fabric
	if cfg.FabricEnabled() {
		fab = fabric.NewHathoraFabric(cfg.HathoraAppID, cfg.HathoraToken)
	} else {
		fab = fabric.NewLocalFabric("localhost", 3001)
	}

	queue := matchmaker.NewQueue(cfg.PlayersPerMatch, fab, cfg.MatchTokenSecret, config.MatchTicketTTL)
	verifier := auth.NewVerifier(cfg.MatchTokenSecret, cfg.RequireAuth)
	connLimiter := ratelimit.NewConnectionLimiter(5, time.Minute)

	go runConnLimiterGC(connLimiter)

	router := mux.NewRouter()
	router.Use(gateway.CORS(cfg.FrontendOrigins))

	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handleQueueSocket(w, r, queue, verifier, connLimiter)
	})

	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": "vim-racing-matchmaking"})
	})

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	router.HandleFunc("/api/task/practice", func(w http.ResponseWriter, r *http.Request) {
		session := tasks.Generate(cfg.PlayersPerMatch*5, time.Now().UnixMilli())
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(session)
	})

	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"queue_length": queue.Len()})
	})

	log.Println("matchmaking gateway starting")
	log.Printf("  websocket: ws://localhost:%s/ws", cfg.MatchmakerPort)
	log.Printf("  health:    http://localhost:%s/health", cfg.MatchmakerPort)

	server := &http.Server{Addr: ":" + cfg.MatchmakerPort, Handler: router}

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint
		log.Println("matchmaking gateway shutting down")
		os.Exit(0)
	}()

	log.Fatal(server.ListenAndServe())
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

func handleQueueSocket(w http.ResponseWriter, r *http.Request, queue *matchmaker.Queue, verifier *auth.Verifier, connLimiter *ratelimit.ConnectionLimiter) {
	ip := ratelimit.ClientIP(r)
	if !connLimiter.TryAcquire(ip) {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := gateway.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		connLimiter.Release(ip)
		log.Printf("matchmaker: upgrade failed: %v", err)
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

	session := gateway.NewSession(uuid.NewString(), conn)
	limiter := ratelimit.NewMessageLimiter(10, 20)

	go session.WritePump()
	session.ReadPump(func(raw []byte) {
		if !limiter.Allow() {
			return
		}
		handleQueueMessage(queue, playerID, name, session, raw)
	}, func() {
		queue.Leave(playerID)
		connLimiter.Release(ip)
	})
}

func handleQueueMessage(queue *matchmaker.Queue, playerID, name string, session *gateway.Session, raw []byte) {
	eventType, _, err := protocol.Decode(raw)
	if err != nil {
		return
	}

	switch eventType {
	case protocol.EventQueueJoin:
		queue.Join(playerID, name, session.SendEnvelope)
	case protocol.EventQueueLeave:
		queue.Leave(playerID)
	case protocol.EventPing:
		session.SendEnvelope(protocol.Encode(protocol.EventPong, nil))
	}
}
