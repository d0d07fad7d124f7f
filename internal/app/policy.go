package app

import "github.com/dkeye/speakcall/internal/protocol"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	default:
		return "none"
	}
}

// Policy decides what the relay does when a recipient cannot keep up with
// the event it is being sent.
type Policy interface {
	OnBackPressure(ev protocol.Event) BackpressureAction
}

// SimplePolicy drops lossy media side-channel events and kicks the recipient
// for anything a call cannot survive losing.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(ev protocol.Event) BackpressureAction {
	switch ev.Type {
	case protocol.TypeSignPrediction, protocol.TypeSTTResult, protocol.TypeOnlineUsers, protocol.TypePong:
		return DropFrame
	}
	return KickMember
}
