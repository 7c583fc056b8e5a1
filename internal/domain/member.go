package domain

// Member represents a user's presence on the signaling relay for one room.
// No transport or lifecycle logic here.
type Member struct {
	User UserID
	Room RoomID
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user UserID, room RoomID) *Member {
	return &Member{User: user, Room: room}
}
