package server

import "errors"

// Coordinator errors are surfaced to the originating connection only, as an
// "error" message. The CODE: prefix is stable and parsed by clients.
var (
	ErrDuplicateSession  = errors.New("DUPLICATE_SESSION: a session with this id already exists")
	ErrSessionNotFound   = errors.New("SESSION_NOT_FOUND: no active session with this id")
	ErrIllegalState      = errors.New("ILLEGAL_STATE: operation is not valid in the session's current state")
	ErrInvalidInvitation = errors.New("INVALID_INVITATION: malformed game creation request")
	ErrNotRegistered     = errors.New("NOT_REGISTERED: connection has no bound player identity")
)
