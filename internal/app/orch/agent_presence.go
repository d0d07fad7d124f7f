package orch

import (
	"context"
	"sort"

	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/domain"
	"github.com/dkeye/speakcall/internal/protocol"
	"github.com/rs/zerolog/log"
)

// announce registers the local participant with the relay. It runs after
// every (re)connect.
func (a *Agent) announce() {
	if err := a.deps.Signal.Send(protocol.UserOnline(a.local)); err != nil {
		log.Warn().Str("module", "app.orch").Err(err).Msg("announce presence")
		return
	}
	log.Info().Str("module", "app.orch").Str("user_id", string(a.local.ID)).Msg("presence announced")
}

func (a *Agent) onOnlineUsers(ev protocol.Event) {
	users := make([]domain.Participant, 0, len(ev.Users))
	for _, u := range ev.Users {
		if u.ID == a.local.ID {
			continue
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	a.online = users
	a.deps.Notifier.Notify(core.UIEvent{Type: core.UIOnlineUsers, Users: users})
}

// Online lists the other participants the relay reports online.
func (a *Agent) Online(ctx context.Context) ([]domain.Participant, error) {
	var out []domain.Participant
	err := a.deps.Loop.Do(ctx, func() {
		out = append([]domain.Participant(nil), a.online...)
	})
	return out, err
}
