package session

import (
	"context"
	"errors"

	"github.com/dkeye/speakcall/internal/app/frames"
	"github.com/dkeye/speakcall/internal/app/media"
	"github.com/dkeye/speakcall/internal/app/vad"
	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/domain"
	"github.com/dkeye/speakcall/internal/protocol"
	"github.com/pion/webrtc/v4"
)

func (s *Session) acquire() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelAcquire = cancel
	s.deps.Loop.Go(func() func() {
		set, err := s.media.Acquire(ctx, true, true)
		return func() { s.onMediaReady(set, err) }
	})
}

func (s *Session) onMediaReady(set media.TrackSet, err error) {
	if s.ending {
		// teardown already released whatever Acquire kept
		return
	}
	s.cancelAcquire = nil
	if err != nil {
		s.fail(ReasonMedia, err)
		return
	}

	s.cc.localToggle = domain.ToggleState{
		MicOn:   set.Audio != nil && set.Audio.Enabled(),
		VideoOn: set.Video != nil && set.Video.Enabled(),
	}
	s.notifyToggle(core.UILocalToggle, s.cc.localToggle)

	if err := s.openLink(set); err != nil {
		s.fail(ReasonNegotiation, err)
		return
	}
	switch s.cc.role {
	case domain.RoleCaller:
		s.offer()
	case domain.RoleCallee:
		s.answer()
	}
}

func (s *Session) openLink(set media.TrackSet) error {
	link, err := s.deps.Links.NewPeerLink(s.cc.id)
	if err != nil {
		return &core.NegotiationError{Op: "create peer link", Err: err}
	}
	s.link = link

	l := s.deps.Loop
	link.OnICECandidate(func(c webrtc.ICECandidateInit) {
		l.Post(func() {
			if s.link != link || s.ending {
				return
			}
			s.sendBestEffort(protocol.Candidate(s.cc.remote, c))
		})
	})
	link.OnStateChange(func(st webrtc.PeerConnectionState) {
		l.Post(func() { s.onLinkState(link, st) })
	})
	link.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := domain.TrackKind(track.Kind().String())
		s.remote.StartRelay(ctx, kind, track.Codec().MimeType, track)
	})

	for _, t := range set.Tracks() {
		if _, err := link.AddLocalTrack(t); err != nil {
			return &core.NegotiationError{Op: "add track", Err: err}
		}
	}
	return nil
}

func (s *Session) offer() {
	offer, err := s.link.CreateOffer()
	if err != nil {
		s.fail(ReasonNegotiation, &core.NegotiationError{Op: "create offer", Err: err})
		return
	}
	if err := s.send(protocol.CallUser(s.cc.remote, offer)); err != nil {
		s.fail(ReasonRelayLost, errors.Join(core.ErrRelayLost, err))
		return
	}
	s.setPhase(domain.PhaseCalling)
	s.ringTimer = s.deps.Loop.AfterFunc(s.cfg.RingTimeout, s.onRingTimeout)
}

func (s *Session) answer() {
	s.setPhase(domain.PhaseAnswering)
	if s.cc.offer == nil {
		s.fail(ReasonNegotiation, &core.NegotiationError{Op: "apply offer", Err: errors.New("no offer")})
		return
	}
	answer, err := s.link.ApplyOfferAndCreateAnswer(*s.cc.offer)
	if err != nil {
		s.fail(ReasonNegotiation, &core.NegotiationError{Op: "apply offer", Err: err})
		return
	}
	s.flushCandidates()
	if err := s.send(protocol.AnswerCall(s.cc.remote, answer)); err != nil {
		s.fail(ReasonRelayLost, errors.Join(core.ErrRelayLost, err))
		return
	}
	s.enterInCall()
}

func (s *Session) onRingTimeout() {
	s.ringTimer = nil
	if s.ending || s.phase != domain.PhaseCalling {
		return
	}
	s.sendBestEffort(protocol.CallEnded(s.cc.remote))
	s.end(ReasonNoAnswer, "no answer", nil)
}

func (s *Session) onLinkState(link core.PeerLink, st webrtc.PeerConnectionState) {
	if s.ending || link != s.link {
		return
	}
	s.logger.Debug().Str("state", st.String()).Msg("peer link state")
	switch st {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		s.fail(ReasonNegotiation, &core.NegotiationError{Op: "connection", Err: errors.New("peer connection " + st.String())})
	}
}

func (s *Session) enterInCall() {
	s.ringTimer.Stop()
	s.ringTimer = nil
	s.setPhase(domain.PhaseInCall)
	s.startAux()
}

// startAux brings up the side-channels the local participant is capable of.
func (s *Session) startAux() {
	if audio := s.media.Audio(); audio != nil && s.cc.local.CanSpeak && s.deps.Transcriber != nil {
		s.segmenter = vad.NewSegmenter(s.cfg.VAD, s.deps.Loop, audio, s.deps.Transcriber, func(text string) {
			if s.ending {
				return
			}
			s.sendBestEffort(protocol.STTResult(s.cc.remote, text))
		}, s.deps.Metrics)
		s.segmenter.Start()
	}
	if video := s.media.Video(); video != nil {
		s.frames = frames.NewRelay(s.cfg.Frames, s.deps.Loop, video, func(image string) error {
			return s.send(protocol.ProcessFrame(s.cc.remote, image))
		}, func(label string) {
			s.deps.Notifier.Notify(core.UIEvent{Type: core.UISignLabel, SessionID: s.cc.id, Text: label})
		}, s.deps.Metrics)
		if s.cc.local.SignRelay {
			s.frames.Start()
		}
	}
}

// bufferCandidate keeps a remote candidate until a remote description exists.
// The oldest one is dropped when the buffer is full.
func (s *Session) bufferCandidate(c webrtc.ICECandidateInit) {
	if len(s.pending) >= s.cfg.CandidateBuffer {
		s.logger.Warn().Int("cap", s.cfg.CandidateBuffer).Msg("candidate buffer full, dropping oldest")
		s.pending = s.pending[1:]
	}
	s.pending = append(s.pending, c)
}

func (s *Session) flushCandidates() {
	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		if err := s.link.AddICECandidate(c); err != nil {
			s.logger.Warn().Err(err).Msg("apply buffered candidate")
		}
	}
	if len(pending) > 0 {
		s.logger.Debug().Int("count", len(pending)).Msg("flushed buffered candidates")
	}
}
