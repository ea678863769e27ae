package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/go-playground/validator/v10"
)

type EventType string

const (
	EventJoin          EventType = "join"
	EventUserList      EventType = "user_list"
	EventDirectMessage EventType = "direct_message"
	EventCreateRoom    EventType = "create_room"
	EventRoomList      EventType = "room_list"
	EventLeaveRoom     EventType = "leave_room"
	EventJoinRoom      EventType = "join_room"
	EventRoomMessage   EventType = "room_message"
)

var (
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrMalformedEvent = errors.New("malformed event")
)

// Event is one decoded client event. The set of implementations is closed:
// only DecodeEvent produces them.
type Event interface {
	Type() EventType
	event()
}

type JoinEvent struct {
	Name string `json:"content" validate:"required"`
}

type DirectMessageEvent struct {
	RecipientID SessionID `json:"receipentId" validate:"required"`
	Content     string    `json:"content" validate:"required"`
}

type CreateRoomEvent struct {
	Name domain.RoomName `json:"content" validate:"required"`
}

type JoinRoomEvent struct {
	RoomID domain.RoomID `json:"roomId" validate:"required"`
}

type LeaveRoomEvent struct {
	RoomID domain.RoomID `json:"roomId" validate:"required"`
}

type RoomMessageEvent struct {
	RoomID  domain.RoomID `json:"roomId" validate:"required"`
	Content string        `json:"content" validate:"required"`
}

func (*JoinEvent) Type() EventType          { return EventJoin }
func (*DirectMessageEvent) Type() EventType { return EventDirectMessage }
func (*CreateRoomEvent) Type() EventType    { return EventCreateRoom }
func (*JoinRoomEvent) Type() EventType      { return EventJoinRoom }
func (*LeaveRoomEvent) Type() EventType     { return EventLeaveRoom }
func (*RoomMessageEvent) Type() EventType   { return EventRoomMessage }

func (*JoinEvent) event()          {}
func (*DirectMessageEvent) event() {}
func (*CreateRoomEvent) event()    {}
func (*JoinRoomEvent) event()      {}
func (*LeaveRoomEvent) event()     {}
func (*RoomMessageEvent) event()   {}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeEvent parses one JSON frame into its typed event.
// Frames with an unrecognized "type" yield ErrUnknownEvent; anything that
// cannot be parsed or lacks a required field yields ErrMalformedEvent.
func DecodeEvent(data []byte) (Event, error) {
	var env struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var ev Event
	switch env.Type {
	case EventJoin:
		ev = &JoinEvent{}
	case EventDirectMessage:
		ev = &DirectMessageEvent{}
	case EventCreateRoom:
		ev = &CreateRoomEvent{}
	case EventJoinRoom:
		ev = &JoinRoomEvent{}
	case EventLeaveRoom:
		ev = &LeaveRoomEvent{}
	case EventRoomMessage:
		ev = &RoomMessageEvent{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
	}
	if err := validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
	}
	return ev, nil
}
