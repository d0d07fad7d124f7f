package orch

import (
	"context"

	"github.com/dkeye/speakcall/internal/app/session"
	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/domain"
	"github.com/dkeye/speakcall/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Call starts an outgoing call to the given participant.
func (a *Agent) Call(ctx context.Context, to domain.ParticipantID) error {
	return on(ctx, a.deps.Loop, func() error { return a.call(to) })
}

func (a *Agent) Answer(ctx context.Context) error {
	return on(ctx, a.deps.Loop, a.answer)
}

func (a *Agent) Reject(ctx context.Context) error {
	return on(ctx, a.deps.Loop, a.reject)
}

func (a *Agent) HangUp(ctx context.Context) error {
	return on(ctx, a.deps.Loop, func() error {
		if a.current == nil {
			return ErrNoSession
		}
		a.current.HangUp()
		return nil
	})
}

func (a *Agent) ToggleMic(ctx context.Context) error {
	return on(ctx, a.deps.Loop, func() error {
		if a.current == nil {
			return ErrNoSession
		}
		a.current.ToggleMic()
		return nil
	})
}

func (a *Agent) ToggleVideo(ctx context.Context) error {
	return on(ctx, a.deps.Loop, func() error {
		if a.current == nil {
			return ErrNoSession
		}
		a.current.ToggleVideo()
		return nil
	})
}

// SendText has the peer hear text as synthesized speech.
func (a *Agent) SendText(ctx context.Context, text string) error {
	return on(ctx, a.deps.Loop, func() error {
		if a.current == nil {
			return ErrNoSession
		}
		return a.current.SendText(text)
	})
}

func (a *Agent) call(to domain.ParticipantID) error {
	if err := domain.ValidateID(to); err != nil {
		return err
	}
	if to == a.local.ID {
		return ErrSelfCall
	}
	if a.current != nil || a.incoming != nil {
		return ErrBusy
	}
	a.startSession(session.Params{Local: a.local, Remote: to, Role: domain.RoleCaller})
	return nil
}

func (a *Agent) answer() error {
	if a.incoming == nil {
		return ErrNoIncoming
	}
	if a.current != nil {
		return ErrBusy
	}
	in := a.incoming
	a.incoming = nil
	offer := in.offer
	a.startSession(session.Params{
		Local:      a.local,
		Remote:     in.from.ID,
		Role:       domain.RoleCallee,
		Offer:      &offer,
		Candidates: in.candidates,
	})
	return nil
}

func (a *Agent) reject() error {
	if a.incoming == nil {
		return ErrNoIncoming
	}
	from := a.incoming.from.ID
	a.incoming = nil
	a.sendBestEffort(protocol.RejectCall(from))
	log.Info().Str("module", "app.orch").Str("peer", string(from)).Msg("incoming call rejected")
	return nil
}

func (a *Agent) startSession(p session.Params) {
	s := session.New(a.cfg.Session, a.deps, p)
	s.OnEnd(a.onSessionEnd)
	a.current = s
	a.last = nil
	log.Info().Str("module", "app.orch").
		Str("sid", string(s.ID())).
		Str("peer", string(p.Remote)).
		Str("role", p.Role.String()).
		Msg("session created")
	s.Start()
}

func (a *Agent) onSessionEnd(s *session.Session) {
	if a.current != s {
		return
	}
	st := s.State()
	a.last = &st
	a.current = nil
}

func (a *Agent) onIncomingCall(ev protocol.Event) {
	from := *ev.From
	if a.current != nil || a.incoming != nil {
		log.Info().Str("module", "app.orch").Str("peer", string(from.ID)).Msg("busy, rejecting incoming call")
		a.sendBestEffort(protocol.RejectCall(from.ID))
		return
	}
	a.incoming = &incomingCall{from: from, offer: *ev.Offer}
	a.deps.Notifier.Notify(core.UIEvent{Type: core.UIIncomingCall, From: &from})
	log.Info().Str("module", "app.orch").Str("peer", string(from.ID)).Msg("incoming call")

	if a.cfg.AutoAnswer {
		if err := a.answer(); err != nil {
			log.Warn().Str("module", "app.orch").Err(err).Msg("auto answer")
		}
	}
}

// onRingingCandidate keeps the caller's candidates until the call is answered.
// Once a session exists it applies them itself.
func (a *Agent) onRingingCandidate(ev protocol.Event) {
	in := a.incoming
	if in == nil || a.current != nil || ev.From == nil || ev.From.ID != in.from.ID {
		return
	}
	limit := a.cfg.Session.CandidateBuffer
	if limit <= 0 {
		limit = session.DefaultConfig().CandidateBuffer
	}
	if len(in.candidates) >= limit {
		log.Warn().Str("module", "app.orch").Int("cap", limit).Msg("ringing candidate buffer full, dropping oldest")
		in.candidates = in.candidates[1:]
	}
	in.candidates = append(in.candidates, *ev.Candidate)
}

// onCallEnded clears an incoming call the caller gave up on. Ended sessions
// handle their own call-ended.
func (a *Agent) onCallEnded(ev protocol.Event) {
	if a.incoming == nil {
		return
	}
	if ev.From != nil && ev.From.ID != a.incoming.from.ID {
		return
	}
	from := a.incoming.from
	a.incoming = nil
	a.deps.Notifier.Notify(core.UIEvent{Type: core.UIIncomingCall, From: &from, Text: "missed"})
	a.notice("missed call from " + displayName(from))
}

func (a *Agent) onDisconnected() {
	// A live session ends itself on the same event.
	if a.incoming != nil {
		a.incoming = nil
		a.notice("incoming call lost with the relay")
	}
	a.online = nil
	a.deps.Notifier.Notify(core.UIEvent{Type: core.UIOnlineUsers})
}

func displayName(p domain.Participant) string {
	if p.Name != "" {
		return p.Name
	}
	return string(p.ID)
}

// AgentState is the snapshot the control API serves.
type AgentState struct {
	Local    domain.Participant   `json:"local"`
	Online   []domain.Participant `json:"online"`
	Incoming *domain.Participant  `json:"incoming,omitempty"`
	Session  *session.State       `json:"session,omitempty"`
	// Last describes the most recent ended session until a new one starts.
	Last *session.State `json:"last,omitempty"`
}

func (a *Agent) State(ctx context.Context) (AgentState, error) {
	var st AgentState
	err := a.deps.Loop.Do(ctx, func() { st = a.state() })
	return st, err
}

func (a *Agent) state() AgentState {
	st := AgentState{
		Local:  a.local,
		Online: append([]domain.Participant(nil), a.online...),
		Last:   a.last,
	}
	if a.incoming != nil {
		from := a.incoming.from
		st.Incoming = &from
	}
	if a.current != nil {
		cur := a.current.State()
		st.Session = &cur
	}
	return st
}

