package orch

import (
	"errors"

	"github.com/dkeye/televisit/internal/app"
	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/metrics"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotJoined   = errors.New("not joined to a room")
	ErrUnknownConn = errors.New("unknown connection")
)

// Orchestrator wires relay connections, rooms and the backpressure policy.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Metrics  *metrics.Metrics
}

// Publish fans data out to the sender's room, sender included.
func (o *Orchestrator) Publish(sid core.SessionID, data core.Frame) (core.PublishResult, error) {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return core.PublishResult{}, ErrNotJoined
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return core.PublishResult{}, ErrNotJoined
	}

	res := room.Broadcast(sid, data)
	o.Metrics.RelayDropped(len(res.Dropped))
	if o.Policy == nil {
		return res, nil
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("sid", string(slow)).Str("room", string(roomID)).Msg("kicking slow member")
			o.KickBySID(slow)
			o.Registry.Cancel(slow)
		case app.MarkSlow:
			log.Info().Str("module", "orch").Str("sid", string(slow)).Msg("member is slow")
		case app.DropFrame, app.NoAction:
		}
	}
	return res, nil
}
