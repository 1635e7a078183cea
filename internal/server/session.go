package server

import (
	"encoding/json"
	"fmt"
	"time"
)

type SessionState string

const (
	StateForming SessionState = "forming"
	StateReady   SessionState = "ready"
	StatePlaying SessionState = "playing"
	StateEnded   SessionState = "ended"
)

type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteDeclined InviteStatus = "declined"
)

// BoardConfig carries the board parameters chosen by the creator. The
// coordinator never interprets them; the ranges mirror the durable game
// record's schema so a session can always be archived.
// tygo:generate
type BoardConfig struct {
	NumPlayers int    `json:"numPlayers"`
	Size       int    `json:"size"`
	Density    string `json:"density"`
}

func (c BoardConfig) Validate() error {
	if c.NumPlayers < 2 || c.NumPlayers > 6 {
		return fmt.Errorf("%w: numPlayers must be between 2 and 6", ErrInvalidInvitation)
	}
	if c.Size < 4 || c.Size > 10 {
		return fmt.Errorf("%w: size must be between 4 and 10", ErrInvalidInvitation)
	}
	switch c.Density {
	case "sparse", "medium", "dense":
	default:
		return fmt.Errorf("%w: density must be sparse, medium or dense", ErrInvalidInvitation)
	}
	return nil
}

// Move is immutable once appended to a session's log. SequenceNumber values
// are contiguous starting at 0.
// tygo:generate
type Move struct {
	SequenceNumber int             `json:"sequenceNumber"`
	Payload        json.RawMessage `json:"payload"`
	SubmittedBy    string          `json:"submittedBy"`
}

// Session is one forming or in-progress game, tracked only in memory. All
// mutation goes through SessionStore methods; callers treat returned sessions
// as read-only.
type Session struct {
	ID           string
	State        SessionState
	Creator      string
	Participants []string
	Invites      map[string]InviteStatus
	Config       BoardConfig
	MoveLog      []Move
	CreatedAt    time.Time
	StartedAt    time.Time

	// expiryGen invalidates the pending expiry timer: a fire whose generation
	// no longer matches was superseded by a state transition.
	expiryTimer *time.Timer
	expiryGen   uint64
}

func (s *Session) allAccepted() bool {
	for _, status := range s.Invites {
		if status != InviteAccepted {
			return false
		}
	}
	return true
}

// acceptors returns the participants currently marked accepted, in roster
// order, excluding the given player.
func (s *Session) acceptors(except string) []string {
	out := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p == except {
			continue
		}
		if s.Invites[p] == InviteAccepted {
			out = append(out, p)
		}
	}
	return out
}
