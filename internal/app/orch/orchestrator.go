package orch

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
)

// Orchestrator routes decoded client events to the registries and fans out
// the resulting notifications. It holds no state of its own beyond counters.
type Orchestrator struct {
	Sessions   core.SessionRegistry
	Rooms      core.RoomRegistry
	Policy     app.Policy
	MaxNameLen int
	Now        func() time.Time

	stats counters
}

type counters struct {
	received   atomic.Uint64
	dispatched atomic.Uint64
	malformed  atomic.Uint64
	unknown    atomic.Uint64
	delivered  atomic.Uint64
	dropped    atomic.Uint64
	kicked     atomic.Uint64
	panics     atomic.Uint64
}

type Stats struct {
	Received   uint64 `json:"received"`
	Dispatched uint64 `json:"dispatched"`
	Malformed  uint64 `json:"malformed"`
	Unknown    uint64 `json:"unknown"`
	Delivered  uint64 `json:"delivered"`
	Dropped    uint64 `json:"dropped"`
	Kicked     uint64 `json:"kicked"`
	Panics     uint64 `json:"panics"`
}

func (o *Orchestrator) Stats() Stats {
	return Stats{
		Received:   o.stats.received.Load(),
		Dispatched: o.stats.dispatched.Load(),
		Malformed:  o.stats.malformed.Load(),
		Unknown:    o.stats.unknown.Load(),
		Delivered:  o.stats.delivered.Load(),
		Dropped:    o.stats.dropped.Load(),
		Kicked:     o.stats.kicked.Load(),
		Panics:     o.stats.panics.Load(),
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Connect registers a freshly accepted transport and returns its session id.
// The session is not joined until it sends a display name.
func (o *Orchestrator) Connect(conn core.SignalConnection) core.SessionID {
	return o.Sessions.Create(conn)
}

// OnFrame decodes one inbound frame and dispatches it. Unknown and malformed
// frames are dropped here.
func (o *Orchestrator) OnFrame(sid core.SessionID, data []byte) {
	o.stats.received.Add(1)
	ev, err := core.DecodeEvent(data)
	switch {
	case errors.Is(err, core.ErrUnknownEvent):
		o.stats.unknown.Add(1)
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Err(err).Msg("ignored event")
		return
	case err != nil:
		o.stats.malformed.Add(1)
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Err(err).Msg("dropped event")
		return
	}
	o.Dispatch(sid, ev)
}

// Dispatch applies one event on behalf of sid. A panic while handling it is
// recovered and logged so that the connection keeps running. Events the
// handler rejects count as malformed, not dispatched.
func (o *Orchestrator) Dispatch(sid core.SessionID, ev core.Event) {
	var err error
	var pc panics.Catcher
	pc.Try(func() { err = o.dispatch(sid, ev) })
	if r := pc.Recovered(); r != nil {
		o.stats.panics.Add(1)
		log.Error().Str("module", "orch").Str("sid", string(sid)).Str("event", string(ev.Type())).
			Err(r.AsError()).Msg("event handler panicked")
		return
	}
	if err != nil {
		o.stats.malformed.Add(1)
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("event", string(ev.Type())).Err(err).Msg("dropped event")
		return
	}
	o.stats.dispatched.Add(1)
}

func (o *Orchestrator) dispatch(sid core.SessionID, ev core.Event) error {
	switch e := ev.(type) {
	case *core.JoinEvent:
		return o.Join(sid, e.Name)
	case *core.DirectMessageEvent:
		o.DirectMessage(sid, e.RecipientID, e.Content)
	case *core.CreateRoomEvent:
		o.CreateRoom(sid, e.Name)
	case *core.JoinRoomEvent:
		o.JoinRoom(sid, e.RoomID)
	case *core.LeaveRoomEvent:
		o.LeaveRoom(sid, e.RoomID)
	case *core.RoomMessageEvent:
		o.RoomMessage(sid, e.RoomID, e.Content)
	}
	return nil
}

// Disconnect tears down a session: it leaves every room, is removed from the
// registry, and the remaining clients get fresh listings. Only the first call
// per session does anything.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	if !o.Sessions.BeginTeardown(sid) {
		return
	}
	sess, _ := o.Sessions.Get(sid)

	for _, room := range o.Rooms.ListAll() {
		if !room.Has(domain.UserID(sid)) {
			continue
		}
		removed, deleted := o.Rooms.RemoveMember(room.ID, sid)
		if removed && !deleted {
			o.notifyLeft(room.ID, sess.Label())
		}
	}

	o.Sessions.Remove(sid)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("username", sess.Username).Msg("session disconnected")

	o.BroadcastUserList()
	o.BroadcastRoomList()
}
