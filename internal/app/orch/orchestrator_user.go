package orch

import (
	"fmt"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join sets the display name of sid, welcomes it and refreshes everyone's
// listings. Re-joining renames the session. Names longer than MaxNameLen are
// cut; an empty name is rejected.
func (o *Orchestrator) Join(sid core.SessionID, name string) error {
	name, err := domain.NormalizeUsername(name, o.MaxNameLen)
	if err != nil {
		return fmt.Errorf("%w: join: %w", core.ErrMalformedEvent, err)
	}
	if !o.Sessions.SetDisplayName(sid, name) {
		return nil
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("username", name).Msg("user joined")

	o.sendTo(sid, core.Message{
		Type:     core.EventJoin,
		SenderID: core.ServerID,
		Sender:   core.ServerName,
		Content:  fmt.Sprintf("Welcome %s!", name),
		UserID:   domain.UserID(sid),
	})
	o.BroadcastUserList()
	o.BroadcastRoomList()
	return nil
}

// DirectMessage forwards content to one joined recipient. Unknown or
// un-joined recipients are skipped silently.
func (o *Orchestrator) DirectMessage(from, to core.SessionID, content string) {
	sender, ok := o.Sessions.Get(from)
	if !ok {
		return
	}
	rcpt, ok := o.Sessions.Get(to)
	if !ok || !rcpt.Joined() {
		log.Debug().Str("module", "orch").Str("sid", string(from)).Str("to", string(to)).Msg("direct message to unknown recipient")
		return
	}
	f, ok := o.encode(core.Message{
		Type:        core.EventDirectMessage,
		SenderID:    string(from),
		Sender:      sender.Label(),
		Content:     content,
		RecipientID: to,
	})
	if !ok {
		return
	}
	o.deliver(to, rcpt.Signal, f)
}
