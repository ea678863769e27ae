package orch

import (
	"fmt"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

// CreateRoom makes a room with sid as its only member.
func (o *Orchestrator) CreateRoom(sid core.SessionID, name domain.RoomName) {
	if _, ok := o.Sessions.Get(sid); !ok {
		return
	}
	name = domain.TruncateRoomName(name, o.MaxNameLen)
	id := o.Rooms.Create(name, sid)

	o.sendTo(sid, core.Message{
		Type:     core.EventCreateRoom,
		SenderID: core.NoticeID,
		Sender:   core.NoticeName,
		Content:  fmt.Sprintf("Room %s created with Id %s", name, id),
		RoomID:   id,
	})
	o.BroadcastRoomList()
}

func (o *Orchestrator) JoinRoom(sid core.SessionID, id domain.RoomID) {
	sess, ok := o.Sessions.Get(sid)
	if !ok {
		return
	}
	exists, added := o.Rooms.AddMember(id, sid)
	if !exists {
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("room_id", string(id)).Msg("join of unknown room")
		return
	}
	room, ok := o.Rooms.Get(id)
	if !ok {
		return
	}

	o.sendTo(sid, core.Message{
		Type:     core.EventJoinRoom,
		SenderID: core.NoticeID,
		Sender:   core.NoticeName,
		Content:  fmt.Sprintf("You joined room %s", room.Name),
		RoomID:   id,
	})
	if !added {
		return
	}
	o.broadcastRoom(id, core.Message{
		Type:     core.EventJoinRoom,
		SenderID: core.NoticeID,
		Sender:   core.NoticeName,
		Content:  fmt.Sprintf("%s joined the room", sess.Label()),
		RoomID:   id,
	}, sid)
}

// LeaveRoom removes sid from the room. The last member leaving deletes the
// room and everyone gets a fresh room list instead of a notice.
func (o *Orchestrator) LeaveRoom(sid core.SessionID, id domain.RoomID) {
	sess, ok := o.Sessions.Get(sid)
	if !ok {
		return
	}
	removed, deleted := o.Rooms.RemoveMember(id, sid)
	switch {
	case !removed:
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("room_id", string(id)).Msg("leave of room not joined")
	case deleted:
		o.BroadcastRoomList()
	default:
		o.notifyLeft(id, sess.Label())
	}
}

func (o *Orchestrator) notifyLeft(id domain.RoomID, label string) {
	o.broadcastRoom(id, core.Message{
		Type:     core.EventLeaveRoom,
		SenderID: core.NoticeID,
		Sender:   core.NoticeName,
		Content:  fmt.Sprintf("%s left the room", label),
		RoomID:   id,
	}, "")
}

// RoomMessage relays content to every current member of the room, the
// sender included when it is a member.
func (o *Orchestrator) RoomMessage(sid core.SessionID, id domain.RoomID, content string) {
	sess, ok := o.Sessions.Get(sid)
	if !ok {
		return
	}
	o.broadcastRoom(id, core.Message{
		Type:     core.EventRoomMessage,
		SenderID: string(sid),
		Sender:   sess.Label(),
		Content:  content,
		RoomID:   id,
	}, "")
}
