package core

import "github.com/dkeye/televisit/internal/domain"

// SessionID identifies one relay connection or one call session.
type SessionID string

// Frame is a raw encoded signaling frame.
type Frame []byte

// SignalConnection abstracts a relay client's messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
}
