package server

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testConfig() BoardConfig {
	return BoardConfig{NumPlayers: 3, Size: 6, Density: "medium"}
}

func newTestStore() *SessionStore {
	return NewSessionStore(10*time.Minute, time.Hour)
}

func TestNewSessionStore(t *testing.T) {
	assert := assert.New(t)

	st := newTestStore()

	assert.NotNil(st)
	assert.NotNil(st.sessions)
	assert.Equal(0, st.Len())
}

func TestCreate_Success(t *testing.T) {
	assert := assert.New(t)
	st := newTestStore()

	sess, err := st.Create("game-1", testConfig(), "alice", []string{"bob", "carol"})

	assert.NoError(err)
	assert.Equal("game-1", sess.ID)
	assert.Equal(StateForming, sess.State)
	assert.Equal("alice", sess.Creator)
	assert.Equal([]string{"alice", "bob", "carol"}, sess.Participants)
	assert.Equal(InviteAccepted, sess.Invites["alice"], "creator is implicitly accepted")
	assert.Equal(InvitePending, sess.Invites["bob"])
	assert.Equal(InvitePending, sess.Invites["carol"])
	assert.Equal(1, st.Len())
}

func TestCreate_CreatorListedAsInvitee(t *testing.T) {
	assert := assert.New(t)
	st := newTestStore()

	// Some clients send the full roster including the creator.
	sess, err := st.Create("game-1", testConfig(), "alice", []string{"alice", "bob", "carol"})

	assert.NoError(err)
	assert.Equal([]string{"alice", "bob", "carol"}, sess.Participants)
	assert.Equal(InviteAccepted, sess.Invites["alice"])
}

func TestCreate_Duplicate(t *testing.T) {
	assert := assert.New(t)
	st := newTestStore()

	_, err := st.Create("game-1", testConfig(), "alice", []string{"bob"})
	assert.NoError(err)

	_, err = st.Create("game-1", testConfig(), "dave", []string{"erin"})
	assert.ErrorIs(err, ErrDuplicateSession)
	assert.Equal(1, st.Len())
}

func TestCreate_Validation(t *testing.T) {
	assert := assert.New(t)
	st := newTestStore()

	cases := []struct {
		name     string
		id       string
		cfg      BoardConfig
		creator  string
		invitees []string
	}{
		{"missing session id", "", testConfig(), "alice", []string{"bob"}},
		{"missing creator", "g", testConfig(), "", []string{"bob"}},
		{"no invitees", "g", testConfig(), "alice", nil},
		{"empty invitee", "g", testConfig(), "alice", []string{""}},
		{"duplicate invitee", "g", testConfig(), "alice", []string{"bob", "bob"}},
		{"only the creator", "g", testConfig(), "alice", []string{"alice"}},
		{"too many invitees", "g", testConfig(), "alice", []string{"b", "c", "d"}},
		{"numPlayers too low", "g", BoardConfig{NumPlayers: 1, Size: 6, Density: "medium"}, "alice", []string{"bob"}},
		{"numPlayers too high", "g", BoardConfig{NumPlayers: 7, Size: 6, Density: "medium"}, "alice", []string{"bob"}},
		{"size out of range", "g", BoardConfig{NumPlayers: 2, Size: 11, Density: "medium"}, "alice", []string{"bob"}},
		{"bad density", "g", BoardConfig{NumPlayers: 2, Size: 6, Density: "crowded"}, "alice", []string{"bob"}},
	}

	for _, tc := range cases {
		_, err := st.Create(tc.id, tc.cfg, tc.creator, tc.invitees)
		assert.ErrorIs(err, ErrInvalidInvitation, tc.name)
	}
	assert.Equal(0, st.Len())
}

func TestGet_NotFound(t *testing.T) {
	assert := assert.New(t)
	st := newTestStore()

	_, err := st.Get("missing")
	assert.ErrorIs(err, ErrSessionNotFound)
}

func TestDelete_Idempotent(t *testing.T) {
	assert := assert.New(t)
	st := newTestStore()

	st.Create("game-1", testConfig(), "alice", []string{"bob"})
	st.Delete("game-1")
	st.Delete("game-1") // second delete is a no-op

	_, err := st.Get("game-1")
	assert.ErrorIs(err, ErrSessionNotFound)
}

func TestAccept_TransitionsToReady(t *testing.T) {
	assert := assert.New(t)
	st := newTestStore()
	st.Create("game-1", testConfig(), "alice", []string{"bob", "carol"})

	res, err := st.Accept("game-1", "bob")
	assert.NoError(err)
	assert.False(res.Ready, "carol is still pending")
	assert.False(res.Transitioned)

	res, err = st.Accept("game-1", "carol")
	assert.NoError(err)
	assert.True(res.Ready)
	assert.True(res.Transitioned, "last accept performs the transition")

	sess, err := st.Get("game-1")
	assert.NoError(err)
	assert.Equal(StateReady, sess.State)
}

func TestAccept_DuplicateFinalAcceptIsEdgeTriggered(t *testing.T) {
	assert := assert.New(t)
	st := newTestStore()
	st.Create("game-1", testConfig(), "alice", []string{"bob"})

	res, err := st.Accept("game-1", "bob")
	assert.NoError(err)
	assert.True(res.Transitioned)

	// The final accept delivered twice must not re-trigger the transition.
	res, err = st.Accept("game-1", "bob")
	assert.NoError(err)
	assert.True(res.Ready)
	assert.False(res.Transitioned)
}

func TestAccept_NotInvited(t *testing.T) {
	assert := assert.New(t)
	st := newTestStore()
	st.Create("game-1", testConfig(), "alice", []string{"bob"})

	_, err := st.Accept("game-1", "mallory")
	assert.ErrorIs(err, ErrInvalidInvitation)
}

func TestAccept_WhilePlaying(t *testing.T) {
	assert := assert.New(t)
	st := startedSession(t)

	_, err := st.Accept("game-1", "bob")
	assert.ErrorIs(err, ErrIllegalState)
}

func TestDecline_CancelsWholeSession(t *testing.T) {
	assert := assert.New(t)
	st := newTestStore()
	st.Create("game-1", testConfig(), "alice", []string{"bob", "carol"})
	st.Accept("game-1", "bob")

	c, err := st.Decline("game-1", "carol")
	assert.NoError(err)
	assert.Equal([]string{"alice", "bob"}, c.Acceptors, "prior acceptors get notified")

	_, err = st.Get("game-1")
	assert.ErrorIs(err, ErrSessionNotFound, "declined sessions do not partially continue")
}

func TestDecline_NotInvited(t *testing.T) {
	assert := assert.New(t)
	st := newTestStore()
	st.Create("game-1", testConfig(), "alice", []string{"bob"})

	_, err := st.Decline("game-1", "mallory")
	assert.ErrorIs(err, ErrInvalidInvitation)

	_, err = st.Get("game-1")
	assert.NoError(err, "session survives a stranger's decline")
}

func TestRevoke_CreatorOnly(t *testing.T) {
	assert := assert.New(t)
	st := newTestStore()
	st.Create("game-1", testConfig(), "alice", []string{"bob"})

	_, err := st.Revoke("game-1", "bob")
	assert.ErrorIs(err, ErrIllegalState)

	c, err := st.Revoke("game-1", "alice")
	assert.NoError(err)
	assert.Empty(c.Acceptors, "nobody but the creator had accepted")

	_, err = st.Get("game-1")
	assert.ErrorIs(err, ErrSessionNotFound)
}

func TestStart_RequiresReady(t *testing.T) {
	assert := assert.New(t)
	st := newTestStore()
	st.Create("game-1", testConfig(), "alice", []string{"bob"})

	_, err := st.Start("game-1", "alice")
	assert.ErrorIs(err, ErrIllegalState, "bob has not accepted yet")
}

func TestStart_CreatorOnly(t *testing.T) {
	assert := assert.New(t)
	st := newTestStore()
	st.Create("game-1", testConfig(), "alice", []string{"bob"})
	st.Accept("game-1", "bob")

	_, err := st.Start("game-1", "bob")
	assert.ErrorIs(err, ErrIllegalState)
}

func TestStart_Success(t *testing.T) {
	assert := assert.New(t)
	st := newTestStore()
	st.Create("game-1", testConfig(), "alice", []string{"bob"})
	st.Accept("game-1", "bob")

	sess, err := st.Start("game-1", "alice")
	assert.NoError(err)
	assert.Equal(StatePlaying, sess.State)
	assert.False(sess.StartedAt.IsZero())
}

// startedSession builds a playing session with participants alice (creator)
// and bob.
func startedSession(t *testing.T) *SessionStore {
	t.Helper()
	st := newTestStore()
	if _, err := st.Create("game-1", testConfig(), "alice", []string{"bob"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.Accept("game-1", "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := st.Start("game-1", "alice"); err != nil {
		t.Fatalf("start: %v", err)
	}
	return st
}

func TestAppendMove_SequenceNumbersAreContiguous(t *testing.T) {
	assert := assert.New(t)
	st := startedSession(t)

	for i := 0; i < 5; i++ {
		payload := json.RawMessage(fmt.Sprintf(`{"field":%d}`, i))
		mv, err := st.AppendMove("game-1", "alice", payload)
		assert.NoError(err)
		assert.Equal(i, mv.SequenceNumber)
	}

	sess, _ := st.Get("game-1")
	assert.Len(sess.MoveLog, 5)
	for i, mv := range sess.MoveLog {
		assert.Equal(i, mv.SequenceNumber, "no gaps, no duplicates")
	}
}

func TestAppendMove_RejectedOutsidePlaying(t *testing.T) {
	assert := assert.New(t)
	st := newTestStore()
	st.Create("game-1", testConfig(), "alice", []string{"bob"})

	_, err := st.AppendMove("game-1", "alice", json.RawMessage(`{}`))
	assert.ErrorIs(err, ErrIllegalState)

	sess, _ := st.Get("game-1")
	assert.Empty(sess.MoveLog, "rejected move is never appended")

	_, err = st.AppendMove("missing", "alice", json.RawMessage(`{}`))
	assert.ErrorIs(err, ErrSessionNotFound)
}

func TestMovesSince(t *testing.T) {
	assert := assert.New(t)
	st := startedSession(t)

	for i := 0; i < 3; i++ {
		st.AppendMove("game-1", "alice", json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
	}

	// Full replay for a client that never saw anything.
	moves, err := st.MovesSince("game-1", -1)
	assert.NoError(err)
	assert.Len(moves, 3)
	assert.Equal(0, moves[0].SequenceNumber)
	assert.Equal(2, moves[2].SequenceNumber)

	// Tail only.
	moves, err = st.MovesSince("game-1", 0)
	assert.NoError(err)
	assert.Len(moves, 2)
	assert.Equal(1, moves[0].SequenceNumber)

	// Caught up: empty, not an error.
	moves, err = st.MovesSince("game-1", 2)
	assert.NoError(err)
	assert.Empty(moves)

	// Ahead of the log (client confusion) is still just empty.
	moves, err = st.MovesSince("game-1", 10)
	assert.NoError(err)
	assert.Empty(moves)

	_, err = st.MovesSince("missing", -1)
	assert.ErrorIs(err, ErrSessionNotFound)
}

func TestEnd_RemovesSession(t *testing.T) {
	assert := assert.New(t)
	st := startedSession(t)

	sess, err := st.End("game-1")
	assert.NoError(err)
	assert.Equal(StateEnded, sess.State)

	_, err = st.Get("game-1")
	assert.ErrorIs(err, ErrSessionNotFound, "ended sessions are not retained")
}

func TestEnd_RequiresPlaying(t *testing.T) {
	assert := assert.New(t)
	st := newTestStore()
	st.Create("game-1", testConfig(), "alice", []string{"bob"})

	_, err := st.End("game-1")
	assert.ErrorIs(err, ErrIllegalState)
}

func TestReaper_FormingExpiry(t *testing.T) {
	assert := assert.New(t)
	st := NewSessionStore(30*time.Millisecond, time.Hour)

	expired := make(chan ExpiredSession, 1)
	st.OnExpire(func(ev ExpiredSession) { expired <- ev })

	st.Create("game-1", testConfig(), "alice", []string{"bob"})

	select {
	case ev := <-expired:
		assert.Equal("game-1", ev.ID)
		assert.Equal(StateForming, ev.State)
		assert.Equal([]string{"alice", "bob"}, ev.Participants)
	case <-time.After(time.Second):
		t.Fatal("forming session was never reaped")
	}

	// A late accept on the reaped id degrades to session-not-found.
	_, err := st.Accept("game-1", "bob")
	assert.ErrorIs(err, ErrSessionNotFound)
}

func TestReaper_PlayingExpiry(t *testing.T) {
	assert := assert.New(t)
	st := NewSessionStore(time.Hour, 30*time.Millisecond)

	expired := make(chan ExpiredSession, 1)
	st.OnExpire(func(ev ExpiredSession) { expired <- ev })

	st.Create("game-1", testConfig(), "alice", []string{"bob"})
	st.Accept("game-1", "bob")
	st.Start("game-1", "alice")

	select {
	case ev := <-expired:
		assert.Equal(StatePlaying, ev.State)
	case <-time.After(time.Second):
		t.Fatal("abandoned game was never reaped")
	}
}

func TestReaper_TransitionCancelsStaleTimer(t *testing.T) {
	assert := assert.New(t)
	st := NewSessionStore(60*time.Millisecond, time.Hour)

	expired := make(chan ExpiredSession, 1)
	st.OnExpire(func(ev ExpiredSession) { expired <- ev })

	st.Create("game-1", testConfig(), "alice", []string{"bob"})
	st.Accept("game-1", "bob")
	_, err := st.Start("game-1", "alice")
	assert.NoError(err)

	// Wait well past the forming TTL; the superseded timer must not evict
	// the now-playing session.
	select {
	case ev := <-expired:
		t.Fatalf("stale timer evicted session in state %s", ev.State)
	case <-time.After(200 * time.Millisecond):
	}

	sess, err := st.Get("game-1")
	assert.NoError(err)
	assert.Equal(StatePlaying, sess.State)
}

func TestReaper_DeleteCancelsTimer(t *testing.T) {
	assert := assert.New(t)
	st := NewSessionStore(30*time.Millisecond, time.Hour)

	expired := make(chan ExpiredSession, 1)
	st.OnExpire(func(ev ExpiredSession) { expired <- ev })

	st.Create("game-1", testConfig(), "alice", []string{"bob"})
	st.Delete("game-1")

	select {
	case <-expired:
		t.Fatal("expiry fired for an explicitly deleted session")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(0, st.Len())
}
