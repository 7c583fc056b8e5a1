package signal

import "github.com/dkeye/televisit/internal/core"

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	ctl.sendJSON(conn, core.RelayFrame{Type: core.FramePong})
}

func (ctl *SignalWSController) handleWhoAmI(
	sid core.SessionID,
	conn *WsSignalConn,
) {
	resp := core.RelayFrame{Type: core.FrameWhoAmI}
	if roomID, session, ok := ctl.Orch.Registry.RoomOf(sid); ok {
		resp.Room = roomID
		resp.User = session.Meta().User
	}
	ctl.sendJSON(conn, resp)
}
