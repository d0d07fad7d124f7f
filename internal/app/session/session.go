// Package session drives one call from device acquisition to teardown.
//
// A Session is confined to the loop goroutine: every exported method must be
// called on it, and every callback it registers posts back to it.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/speakcall/internal/app/frames"
	"github.com/dkeye/speakcall/internal/app/loop"
	"github.com/dkeye/speakcall/internal/app/media"
	"github.com/dkeye/speakcall/internal/app/playback"
	"github.com/dkeye/speakcall/internal/app/remote"
	"github.com/dkeye/speakcall/internal/app/vad"
	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/domain"
	"github.com/dkeye/speakcall/internal/metrics"
	"github.com/dkeye/speakcall/internal/protocol"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotInCall = errors.New("not in call")
	ErrEmptyText = errors.New("empty text")
)

// End reasons, also used as metric labels.
const (
	ReasonHangup       = "hangup"
	ReasonRemoteHangup = "remote-hangup"
	ReasonRejected     = "rejected"
	ReasonNoAnswer     = "no-answer"
	ReasonMedia        = "media-error"
	ReasonNegotiation  = "negotiation-error"
	ReasonRelayLost    = "relay-lost"
)

type Config struct {
	RingTimeout     time.Duration
	CandidateBuffer int
	CaptionTTL      time.Duration
	// RecordDir, when set, receives recordings of the remote tracks.
	RecordDir string
	VAD       vad.Config
	Frames    frames.Config
}

func DefaultConfig() Config {
	return Config{
		RingTimeout:     45 * time.Second,
		CandidateBuffer: 32,
		CaptionTTL:      4 * time.Second,
		VAD:             vad.DefaultConfig(),
		Frames:          frames.DefaultConfig(),
	}
}

type Deps struct {
	Loop        *loop.Loop
	Signal      core.SignalChannel
	Devices     core.DeviceProvider
	Links       core.PeerLinkFactory
	Transcriber core.Transcriber
	Player      core.Player
	Notifier    core.Notifier
	Metrics     *metrics.Metrics
}

type Params struct {
	Local  domain.Participant
	Remote domain.ParticipantID
	Role   domain.Role
	// Offer is the caller's offer; callee sessions only.
	Offer *webrtc.SessionDescription
	// Candidates arrived before the session existed. They are applied once
	// the remote description is set.
	Candidates []webrtc.ICECandidateInit
}

// callContext is everything a signaling handler may read or update.
type callContext struct {
	id           core.SessionID
	local        domain.Participant
	remote       domain.ParticipantID
	role         domain.Role
	offer        *webrtc.SessionDescription
	localToggle  domain.ToggleState
	remoteToggle domain.ToggleState
}

type handler func(cc *callContext, ev protocol.Event)

type Session struct {
	cfg    Config
	deps   Deps
	cc     callContext
	phase  domain.Phase
	logger zerolog.Logger

	media     *media.Manager
	link      core.PeerLink
	remote    *remote.Manager
	segmenter *vad.Segmenter
	frames    *frames.Relay
	playback  *playback.Queue

	pending       []webrtc.ICECandidateInit
	ringTimer     *loop.Timer
	captionTimer  *loop.Timer
	caption       string
	cancelAcquire context.CancelFunc
	unsubscribe   func()
	handlers      map[string]handler

	startedAt time.Time
	ending    bool
	endReason string
	endErr    error
	done      chan struct{}
	onEnd     func(*Session)
}

func New(cfg Config, deps Deps, p Params) *Session {
	if cfg.CandidateBuffer <= 0 {
		cfg.CandidateBuffer = 32
	}
	if deps.Notifier == nil {
		deps.Notifier = core.NotifierFunc(func(core.UIEvent) {})
	}
	id := core.SessionID(uuid.NewString())
	s := &Session{
		cfg:  cfg,
		deps: deps,
		cc: callContext{
			id:     id,
			local:  p.Local,
			remote: p.Remote,
			role:   p.Role,
			offer:  p.Offer,
		},
		phase: domain.PhaseIdle,
		logger: log.With().
			Str("module", "app.session").
			Str("sid", string(id)).
			Str("peer", string(p.Remote)).
			Str("role", p.Role.String()).
			Logger(),
		media:  media.NewManager(deps.Devices, p.Local),
		remote: remote.NewManager(string(id), cfg.RecordDir),
		done:   make(chan struct{}),
	}
	for _, c := range p.Candidates {
		s.bufferCandidate(c)
	}
	s.playback = playback.NewQueue(deps.Loop, deps.Player, deps.Metrics)
	s.playback.OnStart = func(it playback.Item) {
		s.logger.Debug().Str("text", it.Text).Msg("playing synthesized speech")
	}
	s.handlers = map[string]handler{
		protocol.TypeCallAccepted:   s.onCallAccepted,
		protocol.TypeCallRejected:   s.onCallRejected,
		protocol.TypeCallEnded:      s.onCallEnded,
		protocol.TypeICECandidate:   s.onRemoteCandidate,
		protocol.TypeMicToggled:     s.onMicToggled,
		protocol.TypeVideoToggled:   s.onVideoToggled,
		protocol.TypeSTTResult:      s.onSTTResult,
		protocol.TypePlayAudio:      s.onPlayAudio,
		protocol.TypeSignPrediction: s.onSignPrediction,
		protocol.TypeDisconnected:   s.onDisconnected,
	}
	return s
}

func (s *Session) ID() core.SessionID           { return s.cc.id }
func (s *Session) Phase() domain.Phase          { return s.phase }
func (s *Session) Remote() domain.ParticipantID { return s.cc.remote }
func (s *Session) Role() domain.Role            { return s.cc.role }

// Done is closed once the session has ended and released everything.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err is the error that ended the session, nil for normal endings.
func (s *Session) Err() error { return s.endErr }

func (s *Session) EndReason() string { return s.endReason }

// OnEnd registers fn to run on the loop right after teardown.
func (s *Session) OnEnd(fn func(*Session)) { s.onEnd = fn }

// Start subscribes to session events and begins device acquisition.
func (s *Session) Start() {
	if s.phase != domain.PhaseIdle || s.ending {
		return
	}
	types := make([]string, 0, len(s.handlers))
	for t := range s.handlers {
		types = append(types, t)
	}
	s.unsubscribe = s.deps.Signal.Subscribe(s.dispatch, types...)
	s.startedAt = s.deps.Loop.Now()
	s.deps.Metrics.RecordSessionStarted()
	s.setPhase(domain.PhaseAcquiringMedia)
	s.acquire()
}

func (s *Session) dispatch(ev protocol.Event) {
	if s.ending {
		return
	}
	// The relay stamps the sender; events from anyone else are not ours.
	if ev.From != nil && ev.From.ID != s.cc.remote {
		s.logger.Debug().Str("type", ev.Type).Str("from", string(ev.From.ID)).Msg("event from another peer ignored")
		return
	}
	if h, ok := s.handlers[ev.Type]; ok {
		h(&s.cc, ev)
	}
}

// HangUp ends the call locally and tells the peer.
func (s *Session) HangUp() {
	if s.ending {
		return
	}
	s.notifyPeerEnded()
	s.end(ReasonHangup, "", nil)
}

// ToggleMic flips the microphone. It does nothing for a participant that
// cannot speak or when no microphone was acquired.
func (s *Session) ToggleMic() {
	if s.ending || !s.cc.local.CanSpeak {
		return
	}
	on, err := s.media.SetEnabled(domain.KindAudio, !s.cc.localToggle.MicOn)
	if err != nil {
		s.logger.Debug().Err(err).Msg("mic toggle ignored")
		return
	}
	s.cc.localToggle.MicOn = on
	s.notifyToggle(core.UILocalToggle, s.cc.localToggle)
	s.sendBestEffort(protocol.ToggleMic(s.cc.remote, on))
}

func (s *Session) ToggleVideo() {
	if s.ending {
		return
	}
	on, err := s.media.SetEnabled(domain.KindVideo, !s.cc.localToggle.VideoOn)
	if err != nil {
		s.logger.Debug().Err(err).Msg("video toggle ignored")
		return
	}
	s.cc.localToggle.VideoOn = on
	s.notifyToggle(core.UILocalToggle, s.cc.localToggle)
	s.sendBestEffort(protocol.ToggleVideo(s.cc.remote, on))
}

// SendText asks the relay to synthesize text for the peer.
func (s *Session) SendText(text string) error {
	if text == "" {
		return ErrEmptyText
	}
	if s.phase != domain.PhaseInCall || s.ending {
		return ErrNotInCall
	}
	return s.send(protocol.TextForTTS(s.cc.remote, text))
}

// State is a read-only view of the session for the control API.
type State struct {
	ID           core.SessionID                    `json:"id"`
	Phase        string                            `json:"phase"`
	Role         string                            `json:"role"`
	Remote       domain.ParticipantID              `json:"remote"`
	LocalToggle  domain.ToggleState                `json:"local_toggle"`
	RemoteToggle domain.ToggleState                `json:"remote_toggle"`
	Caption      string                            `json:"caption,omitempty"`
	SignLabel    string                            `json:"sign_label,omitempty"`
	Playing      bool                              `json:"playing"`
	Queued       int                               `json:"queued"`
	EndReason    string                            `json:"end_reason,omitempty"`
	RemoteMedia  map[domain.TrackKind]remote.Stats `json:"remote_media,omitempty"`
}

func (s *Session) State() State {
	st := State{
		ID:           s.cc.id,
		Phase:        s.phase.String(),
		Role:         s.cc.role.String(),
		Remote:       s.cc.remote,
		LocalToggle:  s.cc.localToggle,
		RemoteToggle: s.cc.remoteToggle,
		Caption:      s.caption,
		Playing:      s.playback.Playing(),
		Queued:       s.playback.Len(),
		EndReason:    s.endReason,
		RemoteMedia:  s.remote.Stats(),
	}
	if s.frames != nil {
		st.SignLabel = s.frames.Label()
	}
	return st
}

func (s *Session) setPhase(p domain.Phase) {
	if s.phase == p {
		return
	}
	s.logger.Info().Str("from", s.phase.String()).Str("to", p.String()).Msg("phase")
	s.phase = p
	s.deps.Notifier.Notify(core.UIEvent{Type: core.UIPhase, SessionID: s.cc.id, Phase: p.String()})
}

func (s *Session) notice(text string) {
	s.deps.Notifier.Notify(core.UIEvent{Type: core.UINotice, SessionID: s.cc.id, Text: text})
}

func (s *Session) notifyToggle(kind string, st domain.ToggleState) {
	s.deps.Notifier.Notify(core.UIEvent{Type: kind, SessionID: s.cc.id, Toggle: &st})
}

func (s *Session) send(ev protocol.Event) error {
	if err := s.deps.Signal.Send(ev); err != nil {
		s.logger.Warn().Err(err).Str("type", ev.Type).Msg("send failed")
		return err
	}
	return nil
}

func (s *Session) sendBestEffort(ev protocol.Event) {
	_ = s.send(ev)
}

// notifyPeerEnded sends call-ended if the peer may know about this call.
func (s *Session) notifyPeerEnded() {
	if s.cc.role == domain.RoleCallee || s.phase >= domain.PhaseCalling {
		s.sendBestEffort(protocol.CallEnded(s.cc.remote))
	}
}

// fail ends the session because of err, telling the peer when possible.
func (s *Session) fail(reason string, err error) {
	if s.ending {
		return
	}
	if !errors.Is(err, core.ErrRelayLost) {
		s.notifyPeerEnded()
	}
	s.logger.Error().Err(err).Str("reason", reason).Msg("session failed")
	s.end(reason, err.Error(), err)
}

// end tears everything down exactly once.
func (s *Session) end(reason, notice string, err error) {
	if s.ending {
		return
	}
	s.ending = true
	s.endReason = reason
	s.endErr = err

	if s.cancelAcquire != nil {
		s.cancelAcquire()
		s.cancelAcquire = nil
	}
	s.ringTimer.Stop()
	s.captionTimer.Stop()
	if s.caption != "" {
		s.caption = ""
		s.deps.Notifier.Notify(core.UIEvent{Type: core.UICaption, SessionID: s.cc.id})
	}
	if s.segmenter != nil {
		s.segmenter.Stop()
	}
	if s.frames != nil {
		s.frames.Stop()
	}
	s.playback.Stop()
	if s.link != nil {
		if cerr := s.link.Close(); cerr != nil {
			s.logger.Warn().Err(cerr).Msg("close peer link")
		}
		s.link = nil
	}
	s.remote.StopAll()
	if rerr := s.media.Release(); rerr != nil {
		s.logger.Warn().Err(rerr).Msg("release devices")
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.pending = nil

	s.setPhase(domain.PhaseEnded)
	if notice != "" {
		s.notice(notice)
	}
	var dur time.Duration
	if !s.startedAt.IsZero() {
		dur = s.deps.Loop.Now().Sub(s.startedAt)
	}
	s.deps.Metrics.RecordSessionEnded(reason, dur)
	s.logger.Info().Str("reason", reason).Dur("duration", dur).Msg("session ended")
	close(s.done)
	if s.onEnd != nil {
		s.onEnd(s)
	}
}
