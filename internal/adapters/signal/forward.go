package signal

import (
	"context"
	"errors"

	"github.com/dkeye/speakcall/internal/app"
	"github.com/dkeye/speakcall/internal/domain"
	"github.com/dkeye/speakcall/internal/protocol"
	"github.com/rs/zerolog/log"
)

// relayed maps what a client sends to what its peer receives.
var relayed = map[string]string{
	protocol.TypeCallUser:     protocol.TypeIncomingCall,
	protocol.TypeAnswerCall:   protocol.TypeCallAccepted,
	protocol.TypeRejectCall:   protocol.TypeCallRejected,
	protocol.TypeToggleMic:    protocol.TypeMicToggled,
	protocol.TypeToggleVideo:  protocol.TypeVideoToggled,
	protocol.TypeICECandidate: protocol.TypeICECandidate,
	protocol.TypeCallEnded:    protocol.TypeCallEnded,
	protocol.TypeSTTResult:    protocol.TypeSTTResult,
}

func (ctl *SignalWSController) handleAddressed(ctx context.Context, p *peer, ev protocol.Event) {
	self, ok := p.participant()
	if !ok {
		ctl.metrics.RecordDropped("unregistered")
		_ = ctl.sendJSON(p.conn, protocol.ErrorEvent("announce with user_online first"))
		return
	}
	if ev.To == "" || ev.To == self.ID {
		ctl.metrics.RecordDropped("bad-recipient")
		_ = ctl.sendJSON(p.conn, protocol.ErrorEvent("bad recipient"))
		return
	}

	switch ev.Type {
	case protocol.TypeSendTextTTS:
		ctl.handleTextForTTS(ctx, self, ev)
	case protocol.TypeProcessFrame:
		ctl.handleProcessFrame(ctx, p, self, ev)
	default:
		out := ev
		out.Type = relayed[ev.Type]
		if !ctl.deliver(self, ev.To, out) && ev.Type == protocol.TypeCallUser {
			_ = ctl.sendJSON(p.conn, protocol.ErrorEvent("user "+string(ev.To)+" is not online"))
		}
	}
}

// deliver stamps the sender on ev and queues it for to. It reports whether
// the recipient was online.
func (ctl *SignalWSController) deliver(from domain.Participant, to domain.ParticipantID, ev protocol.Event) bool {
	_, conn, ok := ctl.registry.Get(to)
	if !ok {
		log.Debug().Str("module", "signal").Str("type", ev.Type).Str("to", string(to)).Msg("recipient offline")
		ctl.metrics.RecordDropped("offline")
		return false
	}
	ev.To = ""
	ev.From = &from
	err := ctl.sendJSON(conn, ev)
	switch {
	case err == nil:
		ctl.metrics.RecordForwarded(ev.Type)
	case errors.Is(err, ErrBackpressure):
		action := ctl.policy.OnBackPressure(ev)
		log.Warn().Str("module", "signal").
			Str("type", ev.Type).
			Str("to", string(to)).
			Str("action", action.String()).
			Msg("recipient backpressure")
		ctl.metrics.RecordDropped("backpressure")
		if action == app.KickMember {
			ctl.registry.Cancel(to)
		}
	default:
		ctl.metrics.RecordDropped("closed")
	}
	return true
}
