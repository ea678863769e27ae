package app

import (
	"fmt"

	"github.com/dkeye/Relay/internal/core"
)

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	KickMember
)

// Policy decides what to do with a recipient whose send queue rejected a
// frame. The frame itself is always dropped.
type Policy interface {
	OnBackPressure(sid core.SessionID, err error) BackpressureAction
}

type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.SessionID, error) BackpressureAction {
	return DropFrame
}

type KickPolicy struct{}

func (KickPolicy) OnBackPressure(core.SessionID, error) BackpressureAction {
	return KickMember
}

// PolicyByName maps the config value to a Policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "drop":
		return DropPolicy{}, nil
	case "kick":
		return KickPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", name)
	}
}
