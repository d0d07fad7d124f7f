package coretest

import (
	"sync"

	"github.com/dkeye/speakcall/internal/core"
)

// Notifier records every UI event.
type Notifier struct {
	mu     sync.Mutex
	events []core.UIEvent
}

func (n *Notifier) Notify(ev core.UIEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

// Of returns the recorded events of type t.
func (n *Notifier) Of(t string) []core.UIEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []core.UIEvent
	for _, ev := range n.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Phases lists the phase names reported so far.
func (n *Notifier) Phases() []string {
	var out []string
	for _, ev := range n.Of(core.UIPhase) {
		out = append(out, ev.Phase)
	}
	return out
}

// Texts lists the texts of events of type t.
func (n *Notifier) Texts(t string) []string {
	var out []string
	for _, ev := range n.Of(t) {
		out = append(out, ev.Text)
	}
	return out
}
