// Package orch holds the Agent, the shell around call sessions. It owns the
// relay subscription for everything that is not session-scoped, keeps the
// presence list and the incoming-call slot, and runs at most one Session.
package orch

import (
	"context"
	"errors"

	"github.com/dkeye/speakcall/internal/app/loop"
	"github.com/dkeye/speakcall/internal/app/session"
	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/domain"
	"github.com/dkeye/speakcall/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrBusy       = errors.New("already in a call")
	ErrNoSession  = errors.New("no active call")
	ErrNoIncoming = errors.New("no incoming call")
	ErrSelfCall   = errors.New("cannot call yourself")
)

type Config struct {
	// AutoAnswer accepts every incoming call while idle.
	AutoAnswer bool
	Session    session.Config
}

type incomingCall struct {
	from  domain.Participant
	offer webrtc.SessionDescription
	// candidates trickled by the caller while the call rings.
	candidates []webrtc.ICECandidateInit
}

// Agent is confined to its loop. Exported methods are safe from any goroutine;
// they hop onto the loop and wait.
type Agent struct {
	cfg   Config
	deps  session.Deps
	local domain.Participant

	current  *session.Session
	last     *session.State
	incoming *incomingCall
	online   []domain.Participant

	unsubscribe func()
}

// New builds an agent. deps is the template every Session gets.
func New(cfg Config, local domain.Participant, deps session.Deps) *Agent {
	if deps.Notifier == nil {
		deps.Notifier = core.NotifierFunc(func(core.UIEvent) {})
	}
	return &Agent{cfg: cfg, deps: deps, local: local}
}

func (a *Agent) Local() domain.Participant { return a.local }

// Start subscribes to the agent-level events. It must run on the loop.
func (a *Agent) Start() {
	if a.unsubscribe != nil {
		return
	}
	a.unsubscribe = a.deps.Signal.Subscribe(a.dispatch,
		protocol.TypeConnected,
		protocol.TypeDisconnected,
		protocol.TypeOnlineUsers,
		protocol.TypeIncomingCall,
		protocol.TypeCallEnded,
		protocol.TypeICECandidate,
		protocol.TypeError,
	)
	log.Info().Str("module", "app.orch").Str("user_id", string(a.local.ID)).Msg("agent started")
}

// Stop hangs up any call and detaches from the relay. It must run on the loop.
func (a *Agent) Stop() {
	if a.current != nil {
		a.current.HangUp()
	}
	if a.incoming != nil {
		a.sendBestEffort(protocol.RejectCall(a.incoming.from.ID))
		a.incoming = nil
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}

func (a *Agent) dispatch(ev protocol.Event) {
	switch ev.Type {
	case protocol.TypeConnected:
		a.announce()
	case protocol.TypeDisconnected:
		a.onDisconnected()
	case protocol.TypeOnlineUsers:
		a.onOnlineUsers(ev)
	case protocol.TypeIncomingCall:
		a.onIncomingCall(ev)
	case protocol.TypeCallEnded:
		a.onCallEnded(ev)
	case protocol.TypeICECandidate:
		a.onRingingCandidate(ev)
	case protocol.TypeError:
		log.Warn().Str("module", "app.orch").Str("error", ev.Error).Msg("relay error")
		a.notice("relay: " + ev.Error)
	}
}

// on runs fn on the loop and returns its error.
func on(ctx context.Context, l *loop.Loop, fn func() error) error {
	var err error
	if derr := l.Do(ctx, func() { err = fn() }); derr != nil {
		return derr
	}
	return err
}

func (a *Agent) notice(text string) {
	a.deps.Notifier.Notify(core.UIEvent{Type: core.UINotice, Text: text})
}

func (a *Agent) sendBestEffort(ev protocol.Event) {
	if err := a.deps.Signal.Send(ev); err != nil {
		log.Warn().Str("module", "app.orch").Err(err).Str("type", ev.Type).Msg("send failed")
	}
}
