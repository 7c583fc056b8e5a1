package domain

import (
	"errors"
	"regexp"
)

var (
	ErrRoomIDInvalid = errors.New("room id must be 1-64 chars of [A-Za-z0-9_-]")

	roomIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// RoomID names one video visit. It doubles as a NATS subject token and a
// pubsub topic suffix, hence the restricted alphabet.
type RoomID string

func (id RoomID) Validate() error {
	if !roomIDRe.MatchString(string(id)) {
		return ErrRoomIDInvalid
	}
	return nil
}

// SessionContext is the identity a call runs under. It is resolved once by
// the caller and never looked up again mid-flow.
type SessionContext struct {
	Room RoomID
	Self Participant
}

func (sc SessionContext) Validate() error {
	if err := sc.Room.Validate(); err != nil {
		return err
	}
	return sc.Self.Validate()
}
