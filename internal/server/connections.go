package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/coder/websocket"
)

// ConnectionRegistry maps live connections to durable player identities and
// session rooms. It holds no game state and is rebuilt from scratch on
// restart; reconnecting clients re-register and pull missed moves instead.
type ConnectionRegistry struct {
	connections map[string]*websocket.Conn // connectionID → socket
	identities  map[string]string          // connectionID → playerID
	byPlayer    map[string]map[string]bool // playerID → connectionIDs
	rooms       map[string]map[string]bool // sessionID → connectionIDs
	mu          sync.RWMutex
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		connections: make(map[string]*websocket.Conn),
		identities:  make(map[string]string),
		byPlayer:    make(map[string]map[string]bool),
		rooms:       make(map[string]map[string]bool),
	}
}

func (cr *ConnectionRegistry) AddConnection(id string, conn *websocket.Conn) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.connections[id] = conn
}

// RemoveConnection drops one connection's bindings and room memberships. It
// never touches session state: a disconnect is not a leave.
func (cr *ConnectionRegistry) RemoveConnection(id string) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	if player, ok := cr.identities[id]; ok {
		delete(cr.byPlayer[player], id)
		if len(cr.byPlayer[player]) == 0 {
			delete(cr.byPlayer, player)
		}
	}
	delete(cr.identities, id)
	delete(cr.connections, id)
	for sessionID, members := range cr.rooms {
		delete(members, id)
		if len(members) == 0 {
			delete(cr.rooms, sessionID)
		}
	}
}

// Bind associates a connection with a durable player identity. A player may
// hold several live connections at once (multiple tabs); all of them receive
// identity-addressed sends.
func (cr *ConnectionRegistry) Bind(connectionID, playerID string) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	if prev, ok := cr.identities[connectionID]; ok && prev != playerID {
		delete(cr.byPlayer[prev], connectionID)
		if len(cr.byPlayer[prev]) == 0 {
			delete(cr.byPlayer, prev)
		}
	}
	cr.identities[connectionID] = playerID
	if cr.byPlayer[playerID] == nil {
		cr.byPlayer[playerID] = make(map[string]bool)
	}
	cr.byPlayer[playerID][connectionID] = true
}

// Identity returns the player bound to a connection, or "".
func (cr *ConnectionRegistry) Identity(connectionID string) string {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	return cr.identities[connectionID]
}

func (cr *ConnectionRegistry) JoinRoom(connectionID, sessionID string) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	if cr.rooms[sessionID] == nil {
		cr.rooms[sessionID] = make(map[string]bool)
	}
	cr.rooms[sessionID][connectionID] = true
}

func (cr *ConnectionRegistry) LeaveRoom(connectionID, sessionID string) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	delete(cr.rooms[sessionID], connectionID)
	if len(cr.rooms[sessionID]) == 0 {
		delete(cr.rooms, sessionID)
	}
}

// DropRoom removes a room entirely, typically after its session is deleted.
func (cr *ConnectionRegistry) DropRoom(sessionID string) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	delete(cr.rooms, sessionID)
}

// RoomMembers returns the connection ids currently subscribed to a session.
func (cr *ConnectionRegistry) RoomMembers(sessionID string) []string {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	members := make([]string, 0, len(cr.rooms[sessionID]))
	for id := range cr.rooms[sessionID] {
		members = append(members, id)
	}
	return members
}

// Send delivers an event to every connection currently bound to a player —
// zero, one or more. Delivery is best-effort per connection: a dead socket is
// logged and skipped, never aborting the rest. Returns the delivered count.
func (cr *ConnectionRegistry) Send(playerID, event string, payload interface{}) int {
	cr.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(cr.byPlayer[playerID]))
	for id := range cr.byPlayer[playerID] {
		if conn := cr.connections[id]; conn != nil {
			conns = append(conns, conn)
		}
	}
	cr.mu.RUnlock()

	return cr.deliver(conns, playerID, event, payload)
}

// BroadcastToRoom fans an event out to every room member, optionally skipping
// one connection (the submitter of a move already has the state locally).
func (cr *ConnectionRegistry) BroadcastToRoom(sessionID, event string, payload interface{}, excludeConnectionID string) int {
	cr.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(cr.rooms[sessionID]))
	for id := range cr.rooms[sessionID] {
		if id == excludeConnectionID {
			continue
		}
		if conn := cr.connections[id]; conn != nil {
			conns = append(conns, conn)
		}
	}
	cr.mu.RUnlock()

	return cr.deliver(conns, sessionID, event, payload)
}

func (cr *ConnectionRegistry) deliver(conns []*websocket.Conn, target, event string, payload interface{}) int {
	data, err := json.Marshal(ServerMessage{Type: event, Payload: payload})
	if err != nil {
		log.Printf("Failed to marshal %s event: %v", event, err)
		return 0
	}

	sent := 0
	for _, conn := range conns {
		if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
			log.Printf("Relay delivery failure for %s to %s: %v", event, target, err)
			continue
		}
		sent++
	}
	return sent
}

// CloseConnection closes a socket out-of-band, e.g. when the inactivity sweep
// gives up on it. The read loop's cleanup handles the registry removal.
func (cr *ConnectionRegistry) CloseConnection(connectionID, reason string) {
	cr.mu.RLock()
	conn := cr.connections[connectionID]
	cr.mu.RUnlock()

	if conn != nil {
		conn.Close(websocket.StatusGoingAway, reason)
	}
}
