package core

import (
	"github.com/dkeye/Relay/internal/domain"
)

// RoomRegistry owns every room and its membership set.
// A room whose member set becomes empty is deleted by the same call.
type RoomRegistry interface {
	Create(name domain.RoomName, founder SessionID) domain.RoomID
	Get(id domain.RoomID) (domain.Room, bool)

	// AddMember is idempotent. ok is false when the room does not exist;
	// added is false when sid was already a member.
	AddMember(id domain.RoomID, sid SessionID) (ok, added bool)
	// RemoveMember reports whether sid was a member and whether the room
	// was deleted as a result.
	RemoveMember(id domain.RoomID, sid SessionID) (removed, deleted bool)
	ListAll() []domain.Room
}
