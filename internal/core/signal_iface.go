package core

import "github.com/dkeye/speakcall/internal/protocol"

// Frame is a raw binary payload.
type Frame []byte

// SessionID identifies one relay connection.
type SessionID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// SignalChannel is the agent's view of the relay link.
type SignalChannel interface {
	Send(ev protocol.Event) error
	// Subscribe registers fn for the given event types, or for every type when
	// none are given. The returned func detaches fn and may be called any number
	// of times.
	Subscribe(fn func(protocol.Event), types ...string) (unsubscribe func())
}
