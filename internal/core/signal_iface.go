package core

import (
	"context"
	"time"

	"github.com/dkeye/televisit/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Broadcast addresses every subscriber of a room.
const Broadcast domain.UserID = "all"

type SignalKind string

const (
	KindOffer      SignalKind = "offer"
	KindAnswer     SignalKind = "answer"
	KindCandidate  SignalKind = "ice-candidate"
	KindUserJoined SignalKind = "user-joined"
	KindBye        SignalKind = "bye"
)

// SignalPayload is sealed; the variants below are the whole protocol.
type SignalPayload interface {
	Kind() SignalKind
	isSignalPayload()
}

type Offer struct {
	SDP string `json:"sdp"`
}

type Answer struct {
	SDP string `json:"sdp"`
}

type Candidate struct {
	webrtc.ICECandidateInit
}

type UserJoined struct {
	Role domain.Role `json:"role"`
}

type Bye struct {
	Reason string `json:"reason,omitempty"`
}

func (Offer) Kind() SignalKind      { return KindOffer }
func (Answer) Kind() SignalKind     { return KindAnswer }
func (Candidate) Kind() SignalKind  { return KindCandidate }
func (UserJoined) Kind() SignalKind { return KindUserJoined }
func (Bye) Kind() SignalKind        { return KindBye }

func (Offer) isSignalPayload()      {}
func (Answer) isSignalPayload()     {}
func (Candidate) isSignalPayload()  {}
func (UserJoined) isSignalPayload() {}
func (Bye) isSignalPayload()        {}

// SignalMessage is immutable once published.
type SignalMessage struct {
	ID      string
	From    domain.UserID
	To      domain.UserID
	SentAt  time.Time
	Payload SignalPayload
}

func (m SignalMessage) Kind() SignalKind {
	if m.Payload == nil {
		return ""
	}
	return m.Payload.Kind()
}

// AddressedTo reports whether self should look at the message at all.
func (m SignalMessage) AddressedTo(self domain.UserID) bool {
	return m.To == Broadcast || m.To == self
}

// Subscription is the handle returned by SignalChannel.Subscribe.
type Subscription interface {
	Room() domain.RoomID
}

// SignalChannel is a room-scoped, best-effort pub/sub topic. Delivery is
// at-most-once and FIFO per sender; the sender receives its own messages and
// nothing published before Subscribe is replayed.
type SignalChannel interface {
	Subscribe(ctx context.Context, room domain.RoomID, onMessage func(SignalMessage), onError func(error)) (Subscription, error)
	Publish(ctx context.Context, room domain.RoomID, msg SignalMessage) error
	// Unsubscribe is idempotent per handle.
	Unsubscribe(sub Subscription) error
}
