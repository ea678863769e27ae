package core

import "github.com/dkeye/Relay/internal/domain"

type SessionID string

// Session is a read-only snapshot of one registry entry.
type Session struct {
	ID       SessionID
	Username string
	Signal   SignalConnection
}

// Joined reports whether the client has announced a display name.
func (s Session) Joined() bool { return s.Username != "" }

// Label is how the session is named in notices to other clients.
func (s Session) Label() string {
	if s.Username == "" {
		return string(s.ID)
	}
	return s.Username
}

func (s Session) User() domain.User {
	return domain.User{ID: domain.UserID(s.ID), Username: s.Username}
}

// SessionRegistry tracks every connected client.
// Lookups on unknown ids never fail loudly: disconnects race with
// in-flight events, so callers check the returned bool.
type SessionRegistry interface {
	Create(conn SignalConnection) SessionID
	SetDisplayName(sid SessionID, name string) bool
	Get(sid SessionID) (Session, bool)
	Remove(sid SessionID)
	ListAll() []Session

	// BeginTeardown returns true for exactly one caller per session.
	BeginTeardown(sid SessionID) bool
	CloseAll() int
}
