package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionRegistry_BindAndIdentity(t *testing.T) {
	assert := assert.New(t)
	cr := NewConnectionRegistry()

	cr.AddConnection("conn-1", nil)
	assert.Equal("", cr.Identity("conn-1"), "unbound connections have no identity")

	cr.Bind("conn-1", "alice")
	assert.Equal("alice", cr.Identity("conn-1"))

	// Re-registering with a different token moves the binding.
	cr.Bind("conn-1", "bob")
	assert.Equal("bob", cr.Identity("conn-1"))
	assert.Equal(0, cr.Send("alice", "ping", nil), "old identity keeps no connections")
}

func TestConnectionRegistry_MultipleTabs(t *testing.T) {
	assert := assert.New(t)
	cr := NewConnectionRegistry()

	cr.AddConnection("tab-1", nil)
	cr.AddConnection("tab-2", nil)
	cr.Bind("tab-1", "alice")
	cr.Bind("tab-2", "alice")

	assert.Equal("alice", cr.Identity("tab-1"))
	assert.Equal("alice", cr.Identity("tab-2"))

	// Closing one tab must not unbind the other.
	cr.RemoveConnection("tab-1")
	assert.Equal("", cr.Identity("tab-1"))
	assert.Equal("alice", cr.Identity("tab-2"))
}

func TestConnectionRegistry_Rooms(t *testing.T) {
	assert := assert.New(t)
	cr := NewConnectionRegistry()

	cr.AddConnection("conn-1", nil)
	cr.AddConnection("conn-2", nil)
	cr.JoinRoom("conn-1", "game-1")
	cr.JoinRoom("conn-2", "game-1")

	assert.ElementsMatch([]string{"conn-1", "conn-2"}, cr.RoomMembers("game-1"))

	cr.LeaveRoom("conn-1", "game-1")
	assert.Equal([]string{"conn-2"}, cr.RoomMembers("game-1"))

	cr.DropRoom("game-1")
	assert.Empty(cr.RoomMembers("game-1"))
}

func TestConnectionRegistry_RemoveConnectionLeavesRooms(t *testing.T) {
	assert := assert.New(t)
	cr := NewConnectionRegistry()

	cr.AddConnection("conn-1", nil)
	cr.Bind("conn-1", "alice")
	cr.JoinRoom("conn-1", "game-1")
	cr.JoinRoom("conn-1", "game-2")

	cr.RemoveConnection("conn-1")

	assert.Empty(cr.RoomMembers("game-1"))
	assert.Empty(cr.RoomMembers("game-2"))
	assert.Equal("", cr.Identity("conn-1"))
}

func TestConnectionRegistry_SendToUnknownPlayer(t *testing.T) {
	assert := assert.New(t)
	cr := NewConnectionRegistry()

	// Offline invitees are simply skipped; they recover via the move log.
	assert.Equal(0, cr.Send("nobody", "invitation", nil))
}
