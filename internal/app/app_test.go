package app

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return errors.New("unused") }
func (nopConn) Close()                   {}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry()
	canceled := false
	reg.BindSignal("s1", nopConn{}, func() { canceled = true })
	assert.Equal(t, 1, reg.Len())

	_, _, ok := reg.RoomOf("s1")
	assert.False(t, ok, "not joined yet")
	assert.Empty(t, reg.InRoom("visit-1"))

	sess := core.NewMemberSession(domain.NewMember("alice", "visit-1"), nopConn{})
	require.True(t, reg.BindMember("s1", sess))
	assert.False(t, reg.BindMember("ghost", sess))

	room, got, ok := reg.RoomOf("s1")
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("visit-1"), room)
	assert.Equal(t, domain.UserID("alice"), got.Meta().User)
	assert.Equal(t, []core.SessionID{"s1"}, reg.InRoom("visit-1"))
	assert.Empty(t, reg.InRoom("visit-2"))

	reg.RemoveRoom("s1")
	_, _, ok = reg.RoomOf("s1")
	assert.False(t, ok)
	_, ok = reg.Conn("s1")
	assert.True(t, ok, "connection outlives room membership")

	assert.True(t, reg.Cancel("s1"))
	assert.True(t, canceled)
	assert.False(t, reg.Cancel("ghost"))

	reg.Unbind("s1")
	assert.Zero(t, reg.Len())
}

func TestStrikePolicy(t *testing.T) {
	p := NewStrikePolicy(2)
	assert.Equal(t, MarkSlow, p.OnBackPressure(nil, "s1"))
	assert.Equal(t, MarkSlow, p.OnBackPressure(nil, "s1"))
	assert.Equal(t, KickMember, p.OnBackPressure(nil, "s1"))
	assert.Equal(t, MarkSlow, p.OnBackPressure(nil, "s1"), "strikes reset after a kick")

	p.OnBackPressure(nil, "s2")
	p.Forget("s2")
	assert.Equal(t, MarkSlow, p.OnBackPressure(nil, "s2"))
	assert.Equal(t, MarkSlow, p.OnBackPressure(nil, "s2"))

	assert.Equal(t, KickMember, SimplePolicy{}.OnBackPressure(nil, "s3"))
}

func TestRoomManager(t *testing.T) {
	rm := NewRoomManager()
	a := rm.GetOrCreate("visit-b")
	assert.Same(t, a, rm.GetOrCreate("visit-b"))
	rm.GetOrCreate("visit-a")

	a.AddMember("s1", core.NewMemberSession(domain.NewMember("alice", "visit-b"), nopConn{}))
	assert.Equal(t, []core.RoomInfo{
		{ID: "visit-a", MemberCount: 0},
		{ID: "visit-b", MemberCount: 1},
	}, rm.List())

	rm.StopRoom("visit-a")
	_, ok := rm.Get("visit-a")
	assert.False(t, ok)
	got, ok := rm.Get("visit-b")
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("visit-b"), got.ID())
}

func TestRoomManagerEnterLeave(t *testing.T) {
	rm := NewRoomManager()
	alice := core.NewMemberSession(domain.NewMember("alice", "visit-c"), nopConn{})
	bob := core.NewMemberSession(domain.NewMember("bob", "visit-c"), nopConn{})

	room := rm.Enter("visit-c", "s1", alice)
	assert.Same(t, room, rm.Enter("visit-c", "s2", bob))
	assert.Equal(t, 2, room.MemberCount())

	assert.False(t, rm.Leave("visit-c", "s1"), "room still has bob")
	assert.True(t, rm.Leave("visit-c", "s2"))
	_, ok := rm.Get("visit-c")
	assert.False(t, ok)
	assert.False(t, rm.Leave("visit-c", "s2"))
}

func TestRoomManagerConcurrentJoinAndLeave(t *testing.T) {
	rm := NewRoomManager()
	var wg sync.WaitGroup
	for i := range 50 {
		sid := core.SessionID(fmt.Sprintf("s%d", i))
		ms := core.NewMemberSession(domain.NewMember(domain.UserID(sid), "visit-d"), nopConn{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			rm.Enter("visit-d", sid, ms)
			if i%2 == 0 {
				rm.Leave("visit-d", sid)
			}
		}()
	}
	wg.Wait()

	// every member that stayed must be in the room the manager still lists
	room, ok := rm.Get("visit-d")
	require.True(t, ok)
	assert.Equal(t, 25, room.MemberCount())
}
