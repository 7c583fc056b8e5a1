package core

import (
	"encoding/json"

	"github.com/dkeye/televisit/internal/domain"
)

type RelayFrameType string

const (
	FrameJoin    RelayFrameType = "join"
	FrameJoined  RelayFrameType = "joined"
	FramePublish RelayFrameType = "publish"
	FrameMessage RelayFrameType = "message"
	FrameLeave   RelayFrameType = "leave"
	FrameLeft    RelayFrameType = "left"
	FramePing    RelayFrameType = "ping"
	FramePong    RelayFrameType = "pong"
	FrameWhoAmI  RelayFrameType = "whoami"
	FrameError   RelayFrameType = "error"
)

// RelayFrame is the envelope spoken between the relay server and its
// WebSocket clients. Message carries an encoded SignalMessage untouched.
type RelayFrame struct {
	Type    RelayFrameType  `json:"type"`
	Room    domain.RoomID   `json:"room,omitempty"`
	User    domain.UserID   `json:"user,omitempty"`
	Members []MemberDTO     `json:"members,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}
