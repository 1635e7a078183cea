package server

import "encoding/json"

// ============================================================================
// ERROR RESPONSES
// ============================================================================
// tygo:generate
type ErrorMessage struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ============================================================================
// REGISTER (register)
// ============================================================================
// tygo:generate
type RegisterRequest struct {
	AuthToken string `json:"authToken"`
}

// tygo:generate
type RegisteredResponse struct {
	PlayerID string `json:"playerId"`
}

// ============================================================================
// CREATE GAME (create-game)
// ============================================================================
// tygo:generate
type CreateGameRequest struct {
	SessionID string      `json:"sessionId"`
	Config    BoardConfig `json:"config"`
	Invitees  []string    `json:"invitees"`
}

// tygo:generate
type CreateGameResponse struct {
	SessionID string `json:"sessionId"`
}

// tygo:generate
type InvitationNotification struct {
	SessionID string      `json:"sessionId"`
	Config    BoardConfig `json:"config"`
	CreatedBy string      `json:"createdBy"`
}

// ============================================================================
// ACCEPT / DECLINE / REVOKE (accept, decline, revoke)
// ============================================================================
// tygo:generate
type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

// tygo:generate
type AcceptedResponse struct {
	SessionID string `json:"sessionId"`
	PlayerID  string `json:"playerId"`
}

// tygo:generate
type ReadyNotification struct {
	SessionID string `json:"sessionId"`
}

// tygo:generate
type GameDeclinedNotification struct {
	SessionID  string `json:"sessionId"`
	DeclinedBy string `json:"declinedBy"`
}

// tygo:generate
type InvitationRevokedNotification struct {
	SessionID string `json:"sessionId"`
	RevokedBy string `json:"revokedBy,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ============================================================================
// START (start → set-game)
// ============================================================================
// tygo:generate
type StartRequest struct {
	SessionID string          `json:"sessionId"`
	Setup     json.RawMessage `json:"setup"`
}

// tygo:generate
type SetGameNotification struct {
	SessionID string          `json:"sessionId"`
	Setup     json.RawMessage `json:"setup"`
}

// ============================================================================
// MOVES (move, request-missing-moves)
// ============================================================================
// tygo:generate
type MoveRequest struct {
	SessionID string          `json:"sessionId"`
	Move      json.RawMessage `json:"move"`
}

// tygo:generate
type MoveEvent struct {
	SessionID      string          `json:"sessionId"`
	SequenceNumber int             `json:"sequenceNumber"`
	Payload        json.RawMessage `json:"payload"`
}

// tygo:generate
type MissingMovesRequest struct {
	SessionID           string `json:"sessionId"`
	SinceSequenceNumber int    `json:"sinceSequenceNumber"`
}

// tygo:generate
type MissingMovesResponse struct {
	SessionID string `json:"sessionId"`
	Moves     []Move `json:"moves"`
}

// ============================================================================
// END (end → game-ended)
// ============================================================================
// tygo:generate
type GameOutcome struct {
	Status string `json:"status"`
	Winner string `json:"winner,omitempty"`
}

// tygo:generate
type EndRequest struct {
	SessionID string      `json:"sessionId"`
	Outcome   GameOutcome `json:"outcome"`
}

// tygo:generate
type GameEndedNotification struct {
	SessionID string      `json:"sessionId"`
	Outcome   GameOutcome `json:"outcome"`
}

// ============================================================================
// REST: PLAYERS
// ============================================================================
// tygo:generate
type SignupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// tygo:generate
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// tygo:generate
type AuthResponse struct {
	AuthToken string `json:"authToken"`
	PlayerID  string `json:"playerId"`
}

// tygo:generate
type PlayerResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// ============================================================================
// REST: GAME RECORDS
// ============================================================================
// tygo:generate
type CreateRecordRequest struct {
	Config  BoardConfig `json:"config"`
	Players []string    `json:"players"`
	Creator string      `json:"creator"`
}

// tygo:generate
type CreateRecordResponse struct {
	ID string `json:"id"`
}

// tygo:generate
type UpdateRecordRequest struct {
	Status string `json:"status"`
	Winner string `json:"winner,omitempty"`
}
