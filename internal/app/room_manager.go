package app

import (
	"slices"
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type roomEntry struct {
	name    domain.RoomName
	members []core.SessionID
}

func (e *roomEntry) has(sid core.SessionID) bool {
	return slices.Contains(e.members, sid)
}

func (e *roomEntry) snapshot(id domain.RoomID) domain.Room {
	users := make([]domain.UserID, len(e.members))
	for i, sid := range e.members {
		users[i] = domain.UserID(sid)
	}
	return domain.Room{ID: id, Name: e.name, Users: users}
}

// RoomManagerImpl is the room registry. Member sets are small, so a slice
// keeps join order for listings at the cost of linear lookups.
type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomEntry
	order []domain.RoomID
}

func NewRoomManager() *RoomManagerImpl {
	return &RoomManagerImpl{rooms: make(map[domain.RoomID]*roomEntry)}
}

func (f *RoomManagerImpl) Create(name domain.RoomName, founder core.SessionID) domain.RoomID {
	id := domain.RoomID(uuid.NewString())
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[id] = &roomEntry{name: name, members: []core.SessionID{founder}}
	f.order = append(f.order, id)
	log.Info().Str("module", "app.rooms").Str("room_id", string(id)).Str("name", string(name)).Str("sid", string(founder)).Msg("room created")
	return id
}

func (f *RoomManagerImpl) Get(id domain.RoomID) (domain.Room, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.rooms[id]
	if !ok {
		return domain.Room{}, false
	}
	return e.snapshot(id), true
}

func (f *RoomManagerImpl) AddMember(id domain.RoomID, sid core.SessionID) (ok, added bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.rooms[id]
	if !ok {
		return false, false
	}
	if e.has(sid) {
		return true, false
	}
	e.members = append(e.members, sid)
	log.Info().Str("module", "app.rooms").Str("room_id", string(id)).Str("sid", string(sid)).Int("members", len(e.members)).Msg("member added")
	return true, true
}

func (f *RoomManagerImpl) RemoveMember(id domain.RoomID, sid core.SessionID) (removed, deleted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.rooms[id]
	if !ok || !e.has(sid) {
		return false, false
	}
	e.members = slices.DeleteFunc(e.members, func(m core.SessionID) bool { return m == sid })
	log.Info().Str("module", "app.rooms").Str("room_id", string(id)).Str("sid", string(sid)).Int("members", len(e.members)).Msg("member removed")
	if len(e.members) > 0 {
		return true, false
	}
	delete(f.rooms, id)
	f.order = slices.DeleteFunc(f.order, func(r domain.RoomID) bool { return r == id })
	log.Info().Str("module", "app.rooms").Str("room_id", string(id)).Msg("room deleted")
	return true, true
}

func (f *RoomManagerImpl) ListAll() []domain.Room {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]domain.Room, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.rooms[id].snapshot(id))
	}
	return out
}
