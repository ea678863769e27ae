package domain

import "slices"

type (
	RoomName string
	RoomID   string
)

// Room is the listing view of a room: who is in it, in join order.
type Room struct {
	ID    RoomID   `json:"id"`
	Name  RoomName `json:"name"`
	Users []UserID `json:"users"`
}

func (r Room) Has(id UserID) bool {
	return slices.Contains(r.Users, id)
}

// TruncateRoomName cuts name to at most limit runes.
func TruncateRoomName(name RoomName, limit int) RoomName {
	return RoomName(truncateRunes(string(name), limit))
}
