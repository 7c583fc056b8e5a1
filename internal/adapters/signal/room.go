package signal

import (
	"encoding/json"

	"github.com/dkeye/televisit/internal/core"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(
	sid core.SessionID,
	conn *WsSignalConn,
	f core.RelayFrame,
) {
	if err := f.Room.Validate(); err != nil {
		ctl.sendError(conn, "invalid_room")
		return
	}
	if err := f.User.Validate(); err != nil {
		ctl.sendError(conn, "invalid_user")
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(f.Room)).Str("user", string(f.User)).Msg("join")
	room, err := ctl.Orch.Join(sid, f.User, f.Room)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join failed")
		ctl.sendError(conn, "join_failed")
		return
	}
	ctl.sendJSON(conn, core.RelayFrame{
		Type:    core.FrameJoined,
		Room:    room.ID(),
		User:    f.User,
		Members: room.MembersSnapshot(),
	})
}

// handlePublish relays one signal message to the sender's room. The message
// must decode and must carry the joined user as sender.
func (ctl *SignalWSController) handlePublish(
	sid core.SessionID,
	conn *WsSignalConn,
	f core.RelayFrame,
) {
	roomID, session, ok := ctl.Orch.Registry.RoomOf(sid)
	if !ok {
		ctl.sendError(conn, "not_joined")
		return
	}
	if f.Room != "" && f.Room != roomID {
		ctl.sendError(conn, "wrong_room")
		return
	}
	msg, err := core.DecodeSignal(f.Message)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad signal")
		ctl.sendError(conn, "bad_signal")
		return
	}
	user := session.Meta().User
	if msg.From != user {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("user", string(user)).Str("from", string(msg.From)).Msg("spoofed sender")
		ctl.sendError(conn, "from_mismatch")
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(user) {
		ctl.sendError(conn, "rate_limited")
		return
	}
	ctl.Metrics.SignalIn(msg.Kind())

	out, err := json.Marshal(core.RelayFrame{Type: core.FrameMessage, Room: roomID, Message: f.Message})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal relay frame")
		return
	}
	res, err := ctl.Orch.Publish(sid, out)
	if err != nil {
		ctl.sendError(conn, "not_joined")
		return
	}
	log.Debug().Str("module", "signal").Str("sid", string(sid)).Str("type", string(msg.Kind())).Int("sent_to", res.SendTo).Msg("relayed")
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(
	sid core.SessionID,
	conn *WsSignalConn,
) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	roomID, _, _ := ctl.Orch.Registry.RoomOf(sid)
	ctl.Orch.KickBySID(sid)
	ctl.sendJSON(conn, core.RelayFrame{Type: core.FrameLeft, Room: roomID})
}
