package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/coder/websocket"
)

func (s *Server) handleRegister(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req RegisterRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "Invalid register payload")
		return
	}

	playerID, err := s.auth.VerifyToken(req.AuthToken)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	s.registry.Bind(connectionID, playerID)
	log.Printf("Connection %s registered as player %s", connectionID, playerID)

	s.sendMessage(socket, ctx, ServerMessage{
		Type:    "registered",
		Payload: RegisteredResponse{PlayerID: playerID},
	})
}

// identity resolves the player bound to a connection, erroring out on the
// socket when the connection never registered.
func (s *Server) identity(socket *websocket.Conn, ctx context.Context, connectionID string) (string, bool) {
	playerID := s.registry.Identity(connectionID)
	if playerID == "" {
		s.sendError(socket, ctx, ErrNotRegistered.Error())
		return "", false
	}
	return playerID, true
}

func (s *Server) handleCreateGame(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req CreateGameRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "Invalid create-game payload")
		return
	}

	creator, ok := s.identity(socket, ctx, connectionID)
	if !ok {
		return
	}

	sess, err := s.store.Create(req.SessionID, req.Config, creator, req.Invitees)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	// The creator is a room member from the start; invitees join on accept.
	s.registry.JoinRoom(connectionID, sess.ID)

	// Invitees are not room members yet, so each one is notified
	// individually through their identity binding.
	invitation := InvitationNotification{
		SessionID: sess.ID,
		Config:    sess.Config,
		CreatedBy: creator,
	}
	for _, invitee := range sess.Participants {
		if invitee == creator {
			continue
		}
		s.registry.Send(invitee, "invitation", invitation)
	}

	s.sendMessage(socket, ctx, ServerMessage{
		Type:    "game-created",
		Payload: CreateGameResponse{SessionID: sess.ID},
	})
}

func (s *Server) handleAccept(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req SessionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "Invalid accept payload")
		return
	}

	player, ok := s.identity(socket, ctx, connectionID)
	if !ok {
		return
	}

	res, err := s.store.Accept(req.SessionID, player)
	if err != nil {
		// A missing session means the invitation was revoked, declined or
		// timed out in the meantime; the client just gets the failure event.
		s.sendError(socket, ctx, err.Error())
		return
	}

	s.registry.JoinRoom(connectionID, req.SessionID)

	s.sendMessage(socket, ctx, ServerMessage{
		Type:    "accepted",
		Payload: AcceptedResponse{SessionID: req.SessionID, PlayerID: player},
	})

	// Edge-triggered: only the accept that completed the handshake announces
	// readiness. A duplicate accept of a ready session stays quiet.
	if res.Transitioned {
		s.registry.BroadcastToRoom(req.SessionID, "ready", ReadyNotification{SessionID: req.SessionID}, "")
	}
}

func (s *Server) handleDecline(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req SessionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "Invalid decline payload")
		return
	}

	player, ok := s.identity(socket, ctx, connectionID)
	if !ok {
		return
	}

	cancellation, err := s.store.Decline(req.SessionID, player)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	// One decline cancels the whole session; everyone who had accepted
	// hears who pulled out.
	notification := GameDeclinedNotification{
		SessionID:  req.SessionID,
		DeclinedBy: player,
	}
	for _, acceptor := range cancellation.Acceptors {
		s.registry.Send(acceptor, "game-declined", notification)
	}
	s.registry.DropRoom(req.SessionID)
}

func (s *Server) handleRevoke(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req SessionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "Invalid revoke payload")
		return
	}

	creator, ok := s.identity(socket, ctx, connectionID)
	if !ok {
		return
	}

	cancellation, err := s.store.Revoke(req.SessionID, creator)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	notification := InvitationRevokedNotification{
		SessionID: req.SessionID,
		RevokedBy: creator,
	}
	for _, acceptor := range cancellation.Acceptors {
		s.registry.Send(acceptor, "invitation-revoked", notification)
	}
	s.registry.DropRoom(req.SessionID)
}

func (s *Server) handleStart(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req StartRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "Invalid start payload")
		return
	}

	creator, ok := s.identity(socket, ctx, connectionID)
	if !ok {
		return
	}

	sess, err := s.store.Start(req.SessionID, creator)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	// The creator picked the setup locally; only the other room members
	// need it.
	s.registry.BroadcastToRoom(sess.ID, "set-game", SetGameNotification{
		SessionID: sess.ID,
		Setup:     req.Setup,
	}, connectionID)

	s.archive(sess.ID, "playing", "")
}

func (s *Server) handleMove(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req MoveRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "Invalid move payload")
		return
	}

	player, ok := s.identity(socket, ctx, connectionID)
	if !ok {
		return
	}

	// Sequence assignment and append happen inside the store's critical
	// section, so concurrent submits still produce a gapless log.
	mv, err := s.store.AppendMove(req.SessionID, player, req.Move)
	if err != nil {
		// A stray move for a vanished session degrades to a failure event.
		s.sendError(socket, ctx, err.Error())
		return
	}

	s.registry.BroadcastToRoom(req.SessionID, "move", MoveEvent{
		SessionID:      req.SessionID,
		SequenceNumber: mv.SequenceNumber,
		Payload:        mv.Payload,
	}, connectionID)
}

func (s *Server) handleRequestMissingMoves(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req MissingMovesRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "Invalid request-missing-moves payload")
		return
	}

	if _, ok := s.identity(socket, ctx, connectionID); !ok {
		return
	}

	moves, err := s.store.MovesSince(req.SessionID, req.SinceSequenceNumber)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	// A reconnecting client may carry a fresh connection id; re-join the
	// room so it receives future broadcasts too.
	s.registry.JoinRoom(connectionID, req.SessionID)

	// Recovery is addressed to the requester only, never broadcast.
	s.sendMessage(socket, ctx, ServerMessage{
		Type: "missing-moves",
		Payload: MissingMovesResponse{
			SessionID: req.SessionID,
			Moves:     moves,
		},
	})
}

func (s *Server) handleEnd(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req EndRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "Invalid end payload")
		return
	}

	if _, ok := s.identity(socket, ctx, connectionID); !ok {
		return
	}

	sess, err := s.store.End(req.SessionID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	outcome := req.Outcome
	if outcome.Status == "" {
		outcome.Status = "finished"
	}

	s.registry.BroadcastToRoom(sess.ID, "game-ended", GameEndedNotification{
		SessionID: sess.ID,
		Outcome:   outcome,
	}, "")
	s.registry.DropRoom(sess.ID)

	s.archive(sess.ID, "finished", outcome.Winner)
}

// onSessionExpired is the reaper's announcement hook: the store has already
// evicted the session when this runs.
func (s *Server) onSessionExpired(ev ExpiredSession) {
	switch ev.State {
	case StateForming, StateReady:
		s.registry.BroadcastToRoom(ev.ID, "invitation-revoked", InvitationRevokedNotification{
			SessionID: ev.ID,
			Reason:    "expired",
		}, "")
	case StatePlaying:
		s.registry.BroadcastToRoom(ev.ID, "game-ended", GameEndedNotification{
			SessionID: ev.ID,
			Outcome:   GameOutcome{Status: "expired"},
		}, "")
		s.archive(ev.ID, "finished", "")
	}
	s.registry.DropRoom(ev.ID)
}

// archive forwards a state transition to the record store without gating the
// broadcast path on it. A session without a durable record is fine; clients
// that skip the REST create simply have nothing to archive into.
func (s *Server) archive(sessionID, status, winner string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := s.records.UpdateRecord(ctx, sessionID, status, winner)
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			log.Printf("Failed to archive session %s as %s: %v", sessionID, status, err)
		}
	}()
}
