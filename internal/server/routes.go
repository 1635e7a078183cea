package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/websocket", s.websocketHandler)

	// Player account routes
	mux.HandleFunc("POST /players/signup", s.signupHandler)
	mux.HandleFunc("POST /players/login", s.loginHandler)
	mux.HandleFunc("GET /players/{id}", s.requireAuth(s.getPlayerHandler))
	mux.HandleFunc("PUT /players/{id}", s.requireAuth(s.updatePlayerHandler))
	mux.HandleFunc("DELETE /players/{id}", s.requireAuth(s.deletePlayerHandler))

	// Game record routes
	mux.HandleFunc("POST /games", s.requireAuth(s.createRecordHandler))
	mux.HandleFunc("GET /games/{id}", s.requireAuth(s.getRecordHandler))
	mux.HandleFunc("GET /games/player/{playerId}", s.requireAuth(s.recordsByPlayerHandler))
	mux.HandleFunc("PUT /games/{id}", s.requireAuth(s.updateRecordHandler))
	mux.HandleFunc("DELETE /games/{id}", s.requireAuth(s.deleteRecordHandler))

	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.config.Origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := json.Marshal(s.db.Health())
	if err != nil {
		http.Error(w, "Failed to marshal health check response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(resp); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // TODO: restrict to s.config.Origin once the frontend host is fixed
	})
	if err != nil {
		http.Error(w, "Failed to open websocket", http.StatusInternalServerError)
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()

	connectionID := uuid.New().String()
	log.Printf("New connection: %s", connectionID)
	s.registry.AddConnection(connectionID, socket)
	s.health.UpdateActivity(connectionID)

	defer func() {
		// Only the connection's bindings go away. Sessions stay: the player
		// can reconnect and pull missed moves, and abandoned sessions are the
		// reaper's job.
		s.registry.RemoveConnection(connectionID)
		s.rateLimiter.RemoveConnection(connectionID)
		s.health.RemoveConnection(connectionID)
		log.Printf("Connection closed: %s", connectionID)
	}()

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			log.Printf("Connection %s read error: %v", connectionID, err)
			return
		}

		if msgType != websocket.MessageText {
			log.Printf("Non-text input from %s", connectionID)
			continue
		}

		if !s.rateLimiter.Allow(connectionID) {
			s.sendError(socket, ctx, "RATE_LIMITED: too many messages, slow down")
			continue
		}
		s.health.UpdateActivity(connectionID)

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Invalid JSON from %s: %v", connectionID, err)
			s.sendError(socket, ctx, "Invalid JSON")
			continue
		}

		if err := ValidateMessageType(msg.Type); err != nil {
			s.sendError(socket, ctx, err.Error())
			continue
		}

		switch msg.Type {
		case "ping":
			s.handlePing(socket, ctx, connectionID)

		case "register":
			s.handleRegister(socket, ctx, connectionID, msg.Payload)

		case "create-game":
			s.handleCreateGame(socket, ctx, connectionID, msg.Payload)

		case "accept":
			s.handleAccept(socket, ctx, connectionID, msg.Payload)

		case "decline":
			s.handleDecline(socket, ctx, connectionID, msg.Payload)

		case "revoke":
			s.handleRevoke(socket, ctx, connectionID, msg.Payload)

		case "start":
			s.handleStart(socket, ctx, connectionID, msg.Payload)

		case "move":
			s.handleMove(socket, ctx, connectionID, msg.Payload)

		case "request-missing-moves":
			s.handleRequestMissingMoves(socket, ctx, connectionID, msg.Payload)

		case "end":
			s.handleEnd(socket, ctx, connectionID, msg.Payload)
		}
	}
}

func (s *Server) handlePing(socket *websocket.Conn, ctx context.Context, connectionID string) {
	response := ServerMessage{
		Type:    "pong",
		Payload: struct{}{},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Printf("Failed to send pong to %s: %v", connectionID, err)
	}
}

func (s *Server) sendMessage(socket *websocket.Conn, ctx context.Context, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	return socket.Write(ctx, websocket.MessageText, data)
}

// sendError surfaces a failure to the originating connection only. Protocol
// errors never crash the coordinator or touch other sessions.
func (s *Server) sendError(socket *websocket.Conn, ctx context.Context, msg string) {
	response := ServerMessage{
		Type: "error",
		Payload: ErrorMessage{
			Message: msg,
		},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Printf("Failed to send error message: %v", err)
	}
}
