package orch

import (
	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join moves sid into room as user, leaving any previous room first.
func (o *Orchestrator) Join(sid core.SessionID, user domain.UserID, roomID domain.RoomID) (core.RoomService, error) {
	if prev, _, ok := o.Registry.RoomOf(sid); ok {
		o.KickBySID(sid)
		log.Info().Str("sid", string(sid)).Str("from_room", string(prev)).Msg("left previous room")
	}
	conn, ok := o.Registry.Conn(sid)
	if !ok {
		return nil, ErrUnknownConn
	}
	session := core.NewMemberSession(domain.NewMember(user, roomID), conn)
	room := o.Rooms.Enter(roomID, sid, session)
	o.Registry.BindMember(sid, session)
	o.Metrics.RelayMembers(1)
	o.Metrics.RelayRooms(len(o.Rooms.List()))
	log.Info().Str("sid", string(sid)).Str("user", string(user)).Str("room", string(roomID)).Msg("added to room")
	return room, nil
}

// KickBySID removes sid from its room; the connection stays open.
func (o *Orchestrator) KickBySID(sid core.SessionID) {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	o.Rooms.Leave(roomID, sid)
	o.Registry.RemoveRoom(sid)
	if o.Policy != nil {
		o.Policy.Forget(sid)
	}
	o.Metrics.RelayMembers(-1)
	o.Metrics.RelayRooms(len(o.Rooms.List()))
}

// Disconnect forgets sid entirely.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	o.KickBySID(sid)
	o.Registry.Unbind(sid)
}

func (o *Orchestrator) EvictRoom(roomID domain.RoomID) {
	for _, sid := range o.Registry.InRoom(roomID) {
		o.KickBySID(sid)
		o.Registry.Cancel(sid)
	}
	o.Rooms.StopRoom(roomID)
}
