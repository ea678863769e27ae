package core

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Relay/internal/domain"
)

// Sender identities stamped on server-originated notices.
const (
	ServerID   = "server"
	ServerName = "Server"
	NoticeID   = "sender"
	NoticeName = "Sender"
)

// Message is the outgoing wire shape shared by every notification.
type Message struct {
	Type        EventType     `json:"type"`
	SenderID    string        `json:"senderId"`
	Sender      string        `json:"sender"`
	Content     string        `json:"content"`
	TimeStamp   int64         `json:"timeStamp"`
	UserID      domain.UserID `json:"userId,omitempty"`
	RoomID      domain.RoomID `json:"roomId,omitempty"`
	RecipientID SessionID     `json:"receipentId,omitempty"`
}

// Stamp sets the server-assigned timestamp in Unix milliseconds.
func (m *Message) Stamp(now time.Time) {
	m.TimeStamp = now.UnixMilli()
}

func (m Message) Encode() (Frame, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}
