// ABOUTME: Tests for the presence registry
// ABOUTME: Covers multi-connection identities, presence broadcasts, and room cleanup

package presence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain returns every event currently queued on c.
func drain(c *Connection) []*Event {
	var out []*Event
	for {
		select {
		case ev, ok := <-c.Outbox():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func lastPresence(t *testing.T, c *Connection) []string {
	t.Helper()
	var online []string
	found := false
	for _, ev := range drain(c) {
		if ev.Type == EventPresenceChanged {
			online = ev.Online
			found = true
		}
	}
	require.True(t, found, "expected a presence event")
	return online
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	r := NewRegistry(nil)
	a := NewConnection("alice")

	require.NoError(t, r.Register(a))
	assert.True(t, r.IsOnline("alice"))
	assert.Equal(t, []string{"alice"}, r.ListOnline())
	assert.ErrorIs(t, r.Register(a), ErrAlreadyRegistered)

	r.Unregister(a)
	assert.False(t, r.IsOnline("alice"))
	assert.Empty(t, r.ListOnline())

	// Unregistering twice is harmless.
	r.Unregister(a)
}

func TestRegistry_MultipleConnectionsPerIdentity(t *testing.T) {
	r := NewRegistry(nil)
	phone := NewConnection("alice")
	laptop := NewConnection("alice")

	require.NoError(t, r.Register(phone))
	require.NoError(t, r.Register(laptop))
	assert.Len(t, r.ConnectionsFor("alice"), 2)

	r.Unregister(phone)
	assert.True(t, r.IsOnline("alice"), "alice stays online while any connection remains")
	assert.Len(t, r.ConnectionsFor("alice"), 1)

	r.Unregister(laptop)
	assert.False(t, r.IsOnline("alice"))
}

func TestRegistry_PresenceBroadcast(t *testing.T) {
	r := NewRegistry(nil)
	a := NewConnection("alice")
	b := NewConnection("bob")

	require.NoError(t, r.Register(a))
	assert.Equal(t, []string{"alice"}, lastPresence(t, a))

	require.NoError(t, r.Register(b))
	assert.Equal(t, []string{"alice", "bob"}, lastPresence(t, a))
	assert.Equal(t, []string{"alice", "bob"}, lastPresence(t, b))

	r.Unregister(b)
	assert.Equal(t, []string{"alice"}, lastPresence(t, a))
	assert.Empty(t, drain(b), "unregistered connection gets nothing further")
}

func TestRegistry_UnregisterLeavesAllRooms(t *testing.T) {
	r := NewRegistry(nil)
	a := NewConnection("alice")
	b := NewConnection("bob")
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	r.SetRooms("alice", []string{"c1", "c2"})
	r.SetRooms("bob", []string{"c1"})
	assert.Equal(t, []string{"c1", "c2"}, r.RoomsOf(a.ID()))
	assert.Len(t, r.RoomMembers("c1"), 2)

	r.Unregister(a)
	assert.Len(t, r.RoomMembers("c1"), 1)
	assert.Empty(t, r.RoomMembers("c2"))
	assert.Empty(t, r.RoomsOf(a.ID()))
}

func TestRegistry_SetRoomsExact(t *testing.T) {
	r := NewRegistry(nil)
	a1 := NewConnection("alice")
	a2 := NewConnection("alice")
	require.NoError(t, r.Register(a1))
	require.NoError(t, r.Register(a2))

	joined, left := r.SetRooms("alice", []string{"c1", "c2"})
	assert.Equal(t, 4, joined)
	assert.Equal(t, 0, left)

	joined, left = r.SetRooms("alice", []string{"c2", "c3"})
	assert.Equal(t, 2, joined)
	assert.Equal(t, 2, left)

	for _, c := range []*Connection{a1, a2} {
		assert.Equal(t, []string{"c2", "c3"}, r.RoomsOf(c.ID()))
	}
	assert.Empty(t, r.RoomMembers("c1"))

	// Offline identities are a no-op.
	joined, left = r.SetRooms("nobody", []string{"c1"})
	assert.Zero(t, joined)
	assert.Zero(t, left)
}

func TestRegistry_ConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry(nil)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewConnection("alice")
			if err := r.Register(c); err != nil {
				return
			}
			r.SetRooms("alice", []string{"c1"})
			r.Unregister(c)
		}()
	}
	wg.Wait()

	assert.False(t, r.IsOnline("alice"))
	assert.Empty(t, r.RoomMembers("c1"))
}

func TestConnection_SendAfterCloseAndFullBuffer(t *testing.T) {
	c := NewConnection("alice")
	for range outboxSize {
		require.True(t, c.Send(&Event{Type: EventNewMessage}))
	}
	assert.False(t, c.Send(&Event{Type: EventNewMessage}), "full buffer drops")

	c.Close()
	c.Close()
	assert.False(t, c.Send(&Event{Type: EventNewMessage}))
}
