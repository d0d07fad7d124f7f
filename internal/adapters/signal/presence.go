package signal

import (
	"github.com/dkeye/speakcall/internal/domain"
	"github.com/dkeye/speakcall/internal/protocol"
	"github.com/rs/zerolog/log"
)

// handleUserOnline binds the connection to the announced participant and
// pushes the new online list to everyone.
func (ctl *SignalWSController) handleUserOnline(p *peer, ev protocol.Event) {
	user := *ev.User
	if err := domain.ValidateID(user.ID); err != nil {
		_ = ctl.sendJSON(p.conn, protocol.ErrorEvent(err.Error()))
		return
	}
	if p.known != "" && user.ID != p.known {
		log.Warn().Str("module", "signal").
			Str("sid", string(p.sid)).
			Str("known", string(p.known)).
			Str("announced", string(user.ID)).
			Msg("identity mismatch")
		_ = ctl.sendJSON(p.conn, protocol.ErrorEvent("identity mismatch"))
		return
	}
	if len(user.Name) > domain.MaxNameLen {
		user.Name = user.Name[:domain.MaxNameLen]
	}

	p.mu.Lock()
	prev := p.self
	p.self = &user
	p.mu.Unlock()
	if prev != nil && prev.ID != user.ID {
		ctl.registry.Unbind(prev.ID, p.conn)
	}

	ctl.registry.Bind(user, p.conn, p.cancel)
	log.Info().Str("module", "signal").Str("sid", string(p.sid)).Str("user_id", string(user.ID)).Msg("user online")
	ctl.broadcastOnline()
}

func (ctl *SignalWSController) broadcastOnline() {
	users := ctl.registry.Online()
	ctl.metrics.SetOnlineUsers(len(users))
	ev := protocol.OnlineUsers(users)
	for _, conn := range ctl.registry.Conns() {
		if err := ctl.sendJSON(conn, ev); err != nil {
			ctl.metrics.RecordDropped("presence")
		}
	}
}
