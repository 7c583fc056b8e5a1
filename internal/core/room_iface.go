package core

import (
	"github.com/dkeye/televisit/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []SessionID
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	SID  SessionID     `json:"sid"`
	User domain.UserID `json:"user"`
}

// RoomService is the relay-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	ID() domain.RoomID
	MemberCount() int
	MembersSnapshot() []MemberDTO

	AddMember(sid SessionID, ms MemberSession)
	RemoveMember(sid SessionID)
	// Broadcast delivers to every member, the sender included.
	Broadcast(from SessionID, data Frame) PublishResult
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
}

type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	StopRoom(id domain.RoomID)
	// Enter adds a member to room id, creating the room if needed.
	Enter(id domain.RoomID, sid SessionID, ms MemberSession) RoomService
	// Leave removes sid from room id and drops the room once it is empty.
	// It reports whether the room was dropped.
	Leave(id domain.RoomID, sid SessionID) bool
}
