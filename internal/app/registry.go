package app

import (
	"slices"
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Username string
	Signal   core.SignalConnection
	Closing  bool
}

// Registry is the session registry. Entries are kept in connect order so
// that user listings are stable.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	order    []core.SessionID
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

func (r *Registry) Create(conn core.SignalConnection) core.SessionID {
	sid := core.SessionID(uuid.NewString())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Signal: conn}
	r.order = append(r.order, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int("total", len(r.sessions)).Msg("created session")
	return sid
}

func (r *Registry) SetDisplayName(sid core.SessionID, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.Username = name
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("username", name).Msg("updated username")
	return true
}

func (r *Registry) Get(sid core.SessionID) (core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return core.Session{}, false
	}
	return core.Session{ID: sid, Username: e.Username, Signal: e.Signal}, true
}

func (r *Registry) Remove(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sid]; !ok {
		return
	}
	delete(r.sessions, sid)
	r.order = slices.DeleteFunc(r.order, func(id core.SessionID) bool { return id == sid })
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int("total", len(r.sessions)).Msg("removed session")
}

func (r *Registry) ListAll() []core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Session, 0, len(r.order))
	for _, sid := range r.order {
		e := r.sessions[sid]
		out = append(out, core.Session{ID: sid, Username: e.Username, Signal: e.Signal})
	}
	return out
}

func (r *Registry) BeginTeardown(sid core.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.Closing {
		return false
	}
	e.Closing = true
	return true
}

// CloseAll closes every transport handle. Entries are left in place; each
// closed transport reports its own disconnect.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	conns := make([]core.SignalConnection, 0, len(r.sessions))
	for _, e := range r.sessions {
		conns = append(conns, e.Signal)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		if c != nil {
			c.Close()
		}
	}
	log.Info().Str("module", "app.registry").Int("count", len(conns)).Msg("closed all sessions")
	return len(conns)
}
