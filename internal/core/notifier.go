package core

import "github.com/dkeye/speakcall/internal/domain"

const (
	UIPhase        = "phase"
	UINotice       = "notice"
	UICaption      = "caption"
	UISignLabel    = "sign-label"
	UISpeech       = "speech"
	UILocalToggle  = "local-toggle"
	UIRemoteToggle = "remote-toggle"
	UIIncomingCall = "incoming-call"
	UIOnlineUsers  = "online-users"
)

// UIEvent is what the agent surfaces to whoever presents it. An empty Text on
// a caption or sign label clears it.
type UIEvent struct {
	Type      string               `json:"type"`
	SessionID SessionID            `json:"session_id,omitempty"`
	Phase     string               `json:"phase,omitempty"`
	Text      string               `json:"text"`
	Toggle    *domain.ToggleState  `json:"toggle,omitempty"`
	From      *domain.Participant  `json:"from,omitempty"`
	Users     []domain.Participant `json:"users,omitempty"`
}

type Notifier interface {
	Notify(UIEvent)
}

type NotifierFunc func(UIEvent)

func (f NotifierFunc) Notify(ev UIEvent) { f(ev) }

// MultiNotifier fans one event out to several notifiers.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ev UIEvent) {
	for _, n := range m {
		if n != nil {
			n.Notify(ev)
		}
	}
}
