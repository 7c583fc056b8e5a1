package core

// ConnectionState is owned by the session controller. Adapters only emit
// events; they never set it.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateAcquiringMedia
	StateAwaitingRemote
	StateNegotiating
	StateConnected
	StateFailed
	StateEnded
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateAcquiringMedia: "acquiring_media",
	StateAwaitingRemote: "awaiting_remote",
	StateNegotiating:    "negotiating",
	StateConnected:      "connected",
	StateFailed:         "failed",
	StateEnded:          "ended",
}

func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions are possible.
func (s ConnectionState) Terminal() bool {
	return s == StateFailed || s == StateEnded
}

// Establishing covers the states guarded by the connection timeout.
func (s ConnectionState) Establishing() bool {
	return s == StateAwaitingRemote || s == StateNegotiating
}
