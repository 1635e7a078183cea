package server

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// ExpiredSession describes a session the reaper evicted, so the server can
// announce the eviction to any clients still in the room.
type ExpiredSession struct {
	ID           string
	State        SessionState // state that scheduled the expiry
	Participants []string
}

// SessionStore is the authoritative in-memory table of active sessions.
// Every protocol mutation is a method here so the state-machine invariants
// are enforced in one place; each method is a single critical section, which
// is what keeps move sequence numbers contiguous under concurrent submits.
type SessionStore struct {
	sessions   map[string]*Session
	formingTTL time.Duration
	playingTTL time.Duration
	onExpire   func(ExpiredSession)
	mu         sync.RWMutex
}

func NewSessionStore(formingTTL, playingTTL time.Duration) *SessionStore {
	return &SessionStore{
		sessions:   make(map[string]*Session),
		formingTTL: formingTTL,
		playingTTL: playingTTL,
	}
}

// OnExpire registers the reaper callback. It is invoked outside the store
// lock, after the session has already been removed.
func (st *SessionStore) OnExpire(fn func(ExpiredSession)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.onExpire = fn
}

// Create registers a new forming session. Participants are the creator plus
// the invitees; the roster must hold no duplicates and fit within the
// declared player count. The creator is implicitly accepted, everyone else
// starts pending.
func (st *SessionStore) Create(id string, cfg BoardConfig, creator string, invitees []string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidInvitation)
	}
	if creator == "" {
		return nil, fmt.Errorf("%w: missing creator", ErrInvalidInvitation)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(invitees) == 0 {
		return nil, fmt.Errorf("%w: no invitees", ErrInvalidInvitation)
	}

	participants := []string{creator}
	invites := map[string]InviteStatus{creator: InviteAccepted}
	for _, p := range invitees {
		if p == "" {
			return nil, fmt.Errorf("%w: empty invitee id", ErrInvalidInvitation)
		}
		if p == creator {
			// The creator inviting themselves is just their implicit accept.
			continue
		}
		if _, dup := invites[p]; dup {
			return nil, fmt.Errorf("%w: duplicate invitee %s", ErrInvalidInvitation, p)
		}
		invites[p] = InvitePending
		participants = append(participants, p)
	}
	if len(participants) < 2 {
		return nil, fmt.Errorf("%w: at least two players are required", ErrInvalidInvitation)
	}
	if len(participants) > cfg.NumPlayers {
		return nil, fmt.Errorf("%w: more invitees than declared players", ErrInvalidInvitation)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.sessions[id]; exists {
		return nil, ErrDuplicateSession
	}

	s := &Session{
		ID:           id,
		State:        StateForming,
		Creator:      creator,
		Participants: participants,
		Invites:      invites,
		Config:       cfg,
		CreatedAt:    time.Now(),
	}
	st.sessions[id] = s
	st.scheduleExpiryLocked(s, st.formingTTL)

	return s, nil
}

func (st *SessionStore) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete is idempotent and cancels any pending expiry.
func (st *SessionStore) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.removeLocked(id)
}

func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// AcceptResult tells the caller whether this accept completed the handshake.
// Transitioned is true only for the accept that actually moved the session
// to ready; a duplicate accept of an already-ready session reports Ready
// without Transitioned, so the ready notification fires exactly once.
type AcceptResult struct {
	Ready        bool
	Transitioned bool
}

func (st *SessionStore) Accept(id, player string) (AcceptResult, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return AcceptResult{}, ErrSessionNotFound
	}
	status, invited := s.Invites[player]
	if !invited {
		return AcceptResult{}, fmt.Errorf("%w: %s was not invited", ErrInvalidInvitation, player)
	}

	if s.State == StateReady && status == InviteAccepted {
		// Duplicate delivery of the final accept. Acknowledge, don't re-emit.
		return AcceptResult{Ready: true}, nil
	}
	if s.State != StateForming {
		return AcceptResult{}, ErrIllegalState
	}
	if status == InviteAccepted {
		return AcceptResult{}, nil
	}

	s.Invites[player] = InviteAccepted
	if !s.allAccepted() {
		return AcceptResult{}, nil
	}

	s.State = StateReady
	st.scheduleExpiryLocked(s, st.formingTTL)
	return AcceptResult{Ready: true, Transitioned: true}, nil
}

// Cancellation captures who still needs to hear about a decline or revoke
// after the session is gone.
type Cancellation struct {
	Acceptors []string
}

// Decline cancels the whole session: declined invitations do not partially
// continue. The session is removed and prior acceptors are returned for
// notification.
func (st *SessionStore) Decline(id, player string) (Cancellation, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return Cancellation{}, ErrSessionNotFound
	}
	if _, invited := s.Invites[player]; !invited {
		return Cancellation{}, fmt.Errorf("%w: %s was not invited", ErrInvalidInvitation, player)
	}
	if s.State != StateForming {
		return Cancellation{}, ErrIllegalState
	}

	s.Invites[player] = InviteDeclined
	c := Cancellation{Acceptors: s.acceptors(player)}
	st.removeLocked(id)
	return c, nil
}

// Revoke lets the creator cancel a forming session before all invitees
// responded, with the same cancellation semantics as a decline.
func (st *SessionStore) Revoke(id, caller string) (Cancellation, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return Cancellation{}, ErrSessionNotFound
	}
	if caller != s.Creator {
		return Cancellation{}, ErrIllegalState
	}
	if s.State != StateForming {
		return Cancellation{}, ErrIllegalState
	}

	c := Cancellation{Acceptors: s.acceptors(caller)}
	st.removeLocked(id)
	return c, nil
}

// Start moves a ready session into play. Participants are frozen from here
// on and the longer playing expiry replaces the forming one.
func (st *SessionStore) Start(id, caller string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.State != StateReady {
		return nil, ErrIllegalState
	}
	if caller != s.Creator {
		return nil, ErrIllegalState
	}

	s.State = StatePlaying
	s.StartedAt = time.Now()
	st.scheduleExpiryLocked(s, st.playingTTL)
	return s, nil
}

// AppendMove assigns the next sequence number and appends in one critical
// section. Moves are opaque; no legality validation happens here.
func (st *SessionStore) AppendMove(id, player string, payload json.RawMessage) (Move, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return Move{}, ErrSessionNotFound
	}
	if s.State != StatePlaying {
		return Move{}, ErrIllegalState
	}

	mv := Move{
		SequenceNumber: len(s.MoveLog),
		Payload:        payload,
		SubmittedBy:    player,
	}
	s.MoveLog = append(s.MoveLog, mv)
	return mv, nil
}

// MovesSince returns the contiguous tail with sequence numbers greater than
// since. A caught-up requester gets an empty slice, not an error.
func (st *SessionStore) MovesSince(id string, since int) ([]Move, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	start := since + 1
	if start < 0 {
		start = 0
	}
	if start >= len(s.MoveLog) {
		return []Move{}, nil
	}
	return append([]Move(nil), s.MoveLog[start:]...), nil
}

// End finishes a playing session and removes it from the store. The returned
// session lets the caller broadcast the outcome and archive the record; the
// coordinator does not retain ended sessions.
func (st *SessionStore) End(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.State != StatePlaying {
		return nil, ErrIllegalState
	}

	s.State = StateEnded
	st.removeLocked(id)
	return s, nil
}

// removeLocked drops the session and stops its timer. Callers hold st.mu.
func (st *SessionStore) removeLocked(id string) {
	s, ok := st.sessions[id]
	if !ok {
		return
	}
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
	}
	s.expiryGen++
	delete(st.sessions, id)
}

// scheduleExpiryLocked replaces the session's pending expiry. Bumping the
// generation first means a timer that already fired but hasn't run yet can
// never evict the session it was scheduled against. Callers hold st.mu.
func (st *SessionStore) scheduleExpiryLocked(s *Session, ttl time.Duration) {
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
	}
	s.expiryGen++
	gen := s.expiryGen
	id := s.ID
	s.expiryTimer = time.AfterFunc(ttl, func() {
		st.expire(id, gen)
	})
}

func (st *SessionStore) expire(id string, gen uint64) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if !ok || s.expiryGen != gen {
		// Superseded by a state transition or an explicit delete.
		st.mu.Unlock()
		return
	}
	ev := ExpiredSession{
		ID:           id,
		State:        s.State,
		Participants: append([]string(nil), s.Participants...),
	}
	st.removeLocked(id)
	fn := st.onExpire
	st.mu.Unlock()

	log.Printf("Session %s expired in state %s", id, ev.State)
	if fn != nil {
		fn(ev)
	}
}
