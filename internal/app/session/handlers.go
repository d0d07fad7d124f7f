package session

import (
	"encoding/base64"
	"strings"

	"github.com/dkeye/speakcall/internal/app/playback"
	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/domain"
	"github.com/dkeye/speakcall/internal/protocol"
)

func (s *Session) onCallAccepted(_ *callContext, ev protocol.Event) {
	if s.phase != domain.PhaseCalling {
		s.logger.Warn().Str("phase", s.phase.String()).Msg("call-accepted outside calling ignored")
		return
	}
	if err := s.link.ApplyAnswer(*ev.Answer); err != nil {
		s.fail(ReasonNegotiation, &core.NegotiationError{Op: "apply answer", Err: err})
		return
	}
	s.flushCandidates()
	s.enterInCall()
}

func (s *Session) onCallRejected(_ *callContext, _ protocol.Event) {
	s.end(ReasonRejected, "call rejected", nil)
}

func (s *Session) onCallEnded(_ *callContext, _ protocol.Event) {
	s.end(ReasonRemoteHangup, "call ended by peer", nil)
}

func (s *Session) onDisconnected(_ *callContext, _ protocol.Event) {
	s.fail(ReasonRelayLost, core.ErrRelayLost)
}

func (s *Session) onRemoteCandidate(_ *callContext, ev protocol.Event) {
	if s.link != nil && s.link.HasRemoteDescription() {
		if err := s.link.AddICECandidate(*ev.Candidate); err != nil {
			s.logger.Warn().Err(err).Msg("apply remote candidate")
		}
		return
	}
	s.bufferCandidate(*ev.Candidate)
}

func (s *Session) onMicToggled(cc *callContext, ev protocol.Event) {
	if s.phase != domain.PhaseInCall {
		return
	}
	cc.remoteToggle.MicOn = *ev.IsMicOn
	s.remote.SetMuted(domain.KindAudio, !cc.remoteToggle.MicOn)
	s.notifyToggle(core.UIRemoteToggle, cc.remoteToggle)
}

func (s *Session) onVideoToggled(cc *callContext, ev protocol.Event) {
	if s.phase != domain.PhaseInCall {
		return
	}
	cc.remoteToggle.VideoOn = *ev.IsVideoOn
	s.remote.SetMuted(domain.KindVideo, !cc.remoteToggle.VideoOn)
	s.notifyToggle(core.UIRemoteToggle, cc.remoteToggle)
}

// onSTTResult shows the peer's transcribed speech as a caption that fades.
func (s *Session) onSTTResult(cc *callContext, ev protocol.Event) {
	if ev.Text == "" {
		return
	}
	s.caption = ev.Text
	s.deps.Notifier.Notify(core.UIEvent{Type: core.UICaption, SessionID: cc.id, Text: ev.Text})
	s.captionTimer.Stop()
	s.captionTimer = s.deps.Loop.AfterFunc(s.cfg.CaptionTTL, func() {
		s.captionTimer = nil
		s.caption = ""
		s.deps.Notifier.Notify(core.UIEvent{Type: core.UICaption, SessionID: cc.id})
	})
}

// onPlayAudio queues synthesized speech. The text is shown even when the
// local participant cannot hear it.
func (s *Session) onPlayAudio(cc *callContext, ev protocol.Event) {
	if ev.Text != "" {
		s.deps.Notifier.Notify(core.UIEvent{Type: core.UISpeech, SessionID: cc.id, Text: ev.Text})
	}
	if !cc.local.CanHear || ev.Audio == "" || s.deps.Player == nil {
		return
	}
	audio, err := decodeAudio(ev.Audio)
	if err != nil {
		s.logger.Warn().Err(err).Msg("undecodable speech audio")
		return
	}
	s.playback.Enqueue(playback.Item{Audio: audio, Text: ev.Text})
}

func (s *Session) onSignPrediction(_ *callContext, ev protocol.Event) {
	if s.frames == nil {
		return
	}
	s.frames.ShowLabel(ev.Label)
}

// decodeAudio accepts bare base64 or a data URL.
func decodeAudio(v string) ([]byte, error) {
	if i := strings.Index(v, "base64,"); i >= 0 {
		v = v[i+len("base64,"):]
	}
	return base64.StdEncoding.DecodeString(v)
}
