package orch

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

// deliver writes an already encoded frame to one recipient. A failed write
// only affects that recipient.
func (o *Orchestrator) deliver(to core.SessionID, conn core.SignalConnection, f core.Frame) {
	if conn == nil {
		return
	}
	err := conn.TrySend(f)
	if err == nil {
		o.stats.delivered.Add(1)
		return
	}
	o.stats.dropped.Add(1)
	if errors.Is(err, core.ErrClosed) || o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(to, err) {
	case app.KickMember:
		o.stats.kicked.Add(1)
		log.Warn().Str("module", "orch").Str("sid", string(to)).Err(err).Msg("kicking slow client")
		conn.Close()
	case app.DropFrame:
		log.Debug().Str("module", "orch").Str("sid", string(to)).Err(err).Msg("frame dropped")
	}
}

func (o *Orchestrator) encode(msg core.Message) (core.Frame, bool) {
	msg.Stamp(o.now())
	f, err := msg.Encode()
	if err != nil {
		log.Error().Str("module", "orch").Str("type", string(msg.Type)).Err(err).Msg("encode failed")
		return nil, false
	}
	return f, true
}

// sendTo delivers msg to one session if it is still registered.
func (o *Orchestrator) sendTo(to core.SessionID, msg core.Message) {
	sess, ok := o.Sessions.Get(to)
	if !ok {
		return
	}
	f, ok := o.encode(msg)
	if !ok {
		return
	}
	o.deliver(to, sess.Signal, f)
}

// broadcastJoined delivers msg to every joined session.
func (o *Orchestrator) broadcastJoined(msg core.Message) {
	f, ok := o.encode(msg)
	if !ok {
		return
	}
	for _, s := range o.Sessions.ListAll() {
		if s.Joined() {
			o.deliver(s.ID, s.Signal, f)
		}
	}
}

// broadcastRoom delivers msg to every member of the room except skip.
// Members are looked up at send time; ones that already left are skipped.
func (o *Orchestrator) broadcastRoom(id domain.RoomID, msg core.Message, skip core.SessionID) {
	room, ok := o.Rooms.Get(id)
	if !ok {
		return
	}
	f, ok := o.encode(msg)
	if !ok {
		return
	}
	for _, uid := range room.Users {
		sid := core.SessionID(uid)
		if sid == skip {
			continue
		}
		if s, ok := o.Sessions.Get(sid); ok {
			o.deliver(sid, s.Signal, f)
		}
	}
}

// UserList is the joined sessions in connect order.
func (o *Orchestrator) UserList() []domain.User {
	out := make([]domain.User, 0)
	for _, s := range o.Sessions.ListAll() {
		if s.Joined() {
			out = append(out, s.User())
		}
	}
	return out
}

func (o *Orchestrator) RoomList() []domain.Room {
	return o.Rooms.ListAll()
}

func (o *Orchestrator) BroadcastUserList() {
	content, err := json.Marshal(o.UserList())
	if err != nil {
		log.Error().Str("module", "orch").Err(err).Msg("user list marshal failed")
		return
	}
	o.broadcastJoined(core.Message{
		Type:     core.EventUserList,
		SenderID: core.ServerID,
		Sender:   core.ServerName,
		Content:  string(content),
	})
}

func (o *Orchestrator) BroadcastRoomList() {
	content, err := json.Marshal(o.RoomList())
	if err != nil {
		log.Error().Str("module", "orch").Err(err).Msg("room list marshal failed")
		return
	}
	o.broadcastJoined(core.Message{
		Type:     core.EventRoomList,
		SenderID: core.NoticeID,
		Sender:   core.NoticeName,
		Content:  string(content),
	})
}
