package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/dkeye/speakcall/internal/app/loop"
	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/core/coretest"
	"github.com/dkeye/speakcall/internal/domain"
	"github.com/dkeye/speakcall/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

type harness struct {
	t        *testing.T
	loop     *loop.Loop
	clk      *clocktesting.FakeClock
	devices  *coretest.Provider
	links    *coretest.LinkFactory
	signal   *coretest.Signal
	notifier *coretest.Notifier
	stt      *coretest.Transcriber
	player   *coretest.Player
	local    domain.Participant
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clocktesting.NewFakeClock(time.Unix(1_700_000_000, 0))
	l := loop.New(clk, 64)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return &harness{
		t:        t,
		loop:     l,
		clk:      clk,
		devices:  coretest.NewProvider(),
		links:    &coretest.LinkFactory{},
		signal:   &coretest.Signal{},
		notifier: &coretest.Notifier{},
		stt:      &coretest.Transcriber{Text: "hi"},
		player:   &coretest.Player{},
		local:    domain.Participant{ID: "alice", Name: "Alice", CanHear: true, CanSpeak: true},
	}
}

func (h *harness) newSession(role domain.Role, offer *webrtc.SessionDescription) *Session {
	return New(DefaultConfig(), Deps{
		Loop:        h.loop,
		Signal:      h.signal,
		Devices:     h.devices,
		Links:       h.links,
		Transcriber: h.stt,
		Player:      h.player,
		Notifier:    h.notifier,
	}, Params{Local: h.local, Remote: "bob", Role: role, Offer: offer})
}

func (h *harness) do(fn func()) {
	h.t.Helper()
	require.NoError(h.t, h.loop.Do(context.Background(), fn))
}

func (h *harness) deliver(ev protocol.Event) {
	h.do(func() { h.signal.Deliver(ev) })
}

func (h *harness) phase(s *Session) domain.Phase {
	var p domain.Phase
	h.do(func() { p = s.Phase() })
	return p
}

func (h *harness) waitPhase(s *Session, want domain.Phase) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.phase(s) == want }, 2*time.Second, time.Millisecond,
		"phase never reached %s", want)
}

func answerSDP() *webrtc.SessionDescription {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"}
}

func offerSDP() *webrtc.SessionDescription {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"}
}

func candidate(n int) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d 1 udp 1 10.0.0.%d 5000 typ host", n, n)}
}

func (h *harness) startCaller() *Session {
	s := h.newSession(domain.RoleCaller, nil)
	h.do(s.Start)
	h.waitPhase(s, domain.PhaseCalling)
	return s
}

func TestCallerReachesInCall(t *testing.T) {
	h := newHarness(t)
	s := h.startCaller()

	calls := h.signal.SentOf(protocol.TypeCallUser)
	require.Len(t, calls, 1)
	assert.Equal(t, domain.ParticipantID("bob"), calls[0].To)
	require.NotNil(t, calls[0].Offer)
	assert.Equal(t, webrtc.SDPTypeOffer, calls[0].Offer.Type)

	require.Equal(t, 1, h.links.Count())
	_, tracks, _ := h.links.Last().Snapshot()
	assert.Equal(t, 2, tracks)

	h.deliver(protocol.Event{Type: protocol.TypeCallAccepted, Answer: answerSDP()})
	assert.Equal(t, domain.PhaseInCall, h.phase(s))
	h.do(func() {
		assert.True(t, s.segmenter.Running())
		assert.False(t, s.frames.Running(), "frame relay needs sign relay enabled")
		st := s.State()
		assert.True(t, st.LocalToggle.MicOn)
		assert.True(t, st.LocalToggle.VideoOn)
	})
	assert.Equal(t, []string{"acquiring-media", "calling", "in-call"}, h.notifier.Phases())
}

func TestRejectedEndsWithoutError(t *testing.T) {
	h := newHarness(t)
	s := h.startCaller()

	h.deliver(protocol.Event{Type: protocol.TypeCallRejected})
	assert.Equal(t, domain.PhaseEnded, h.phase(s))
	assert.NoError(t, s.Err())
	assert.Equal(t, ReasonRejected, s.EndReason())
	assert.Contains(t, h.notifier.Texts(core.UINotice), "call rejected")

	closes, _, _ := h.links.Last().Snapshot()
	assert.Equal(t, 1, closes)
	assert.Equal(t, int32(1), h.devices.AudioDev.Stops.Load())
	assert.Equal(t, int32(1), h.devices.VideoDev.Stops.Load())
	assert.Equal(t, 0, h.signal.Subscribers())
	assert.Empty(t, h.signal.SentOf(protocol.TypeCallEnded))
	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestDoubleHangUpTearsDownOnce(t *testing.T) {
	h := newHarness(t)
	s := h.startCaller()
	h.deliver(protocol.Event{Type: protocol.TypeCallAccepted, Answer: answerSDP()})

	ended := 0
	h.do(func() {
		s.OnEnd(func(*Session) { ended++ })
		s.HangUp()
		s.HangUp()
	})
	h.deliver(protocol.Event{Type: protocol.TypeCallEnded})

	closes, _, _ := h.links.Last().Snapshot()
	assert.Equal(t, 1, closes)
	assert.Equal(t, int32(1), h.devices.AudioDev.Stops.Load())
	assert.Equal(t, int32(1), h.devices.VideoDev.Stops.Load())
	assert.Len(t, h.signal.SentOf(protocol.TypeCallEnded), 1)
	assert.Equal(t, 1, ended)
	assert.Equal(t, ReasonHangup, s.EndReason())
}

func TestCalleeAnswersAndFlushesCandidates(t *testing.T) {
	h := newHarness(t)
	h.devices.Gate = make(chan struct{})
	s := h.newSession(domain.RoleCallee, offerSDP())
	h.do(s.Start)

	// candidates trickle in while the devices are still being opened
	for i := 1; i <= 3; i++ {
		c := candidate(i)
		h.deliver(protocol.Event{Type: protocol.TypeICECandidate, Candidate: &c})
	}
	assert.Equal(t, 0, h.links.Count(), "no peer link before devices are ready")
	close(h.devices.Gate)

	h.waitPhase(s, domain.PhaseInCall)
	answers := h.signal.SentOf(protocol.TypeAnswerCall)
	require.Len(t, answers, 1)
	assert.Equal(t, domain.ParticipantID("bob"), answers[0].To)

	_, _, applied := h.links.Last().Snapshot()
	assert.Equal(t, []webrtc.ICECandidateInit{candidate(1), candidate(2), candidate(3)}, applied)
	assert.Equal(t, []string{"acquiring-media", "answering", "in-call"}, h.notifier.Phases())

	// later candidates go straight in
	c := candidate(4)
	h.deliver(protocol.Event{Type: protocol.TypeICECandidate, Candidate: &c})
	_, _, applied = h.links.Last().Snapshot()
	assert.Len(t, applied, 4)
}

func TestSeededCandidatesAppliedFirst(t *testing.T) {
	h := newHarness(t)
	h.devices.Gate = make(chan struct{})
	s := New(DefaultConfig(), Deps{
		Loop:     h.loop,
		Signal:   h.signal,
		Devices:  h.devices,
		Links:    h.links,
		Notifier: h.notifier,
	}, Params{
		Local:      h.local,
		Remote:     "bob",
		Role:       domain.RoleCallee,
		Offer:      offerSDP(),
		Candidates: []webrtc.ICECandidateInit{candidate(1), candidate(2)},
	})
	h.do(s.Start)
	c := candidate(3)
	h.deliver(protocol.Event{Type: protocol.TypeICECandidate, Candidate: &c})
	close(h.devices.Gate)

	h.waitPhase(s, domain.PhaseInCall)
	_, _, applied := h.links.Last().Snapshot()
	assert.Equal(t, []webrtc.ICECandidateInit{candidate(1), candidate(2), candidate(3)}, applied)
}

func TestCandidateBufferDropsOldest(t *testing.T) {
	h := newHarness(t)
	s := h.startCaller()
	for i := 1; i <= 40; i++ {
		c := candidate(i)
		h.deliver(protocol.Event{Type: protocol.TypeICECandidate, Candidate: &c})
	}
	h.deliver(protocol.Event{Type: protocol.TypeCallAccepted, Answer: answerSDP()})
	require.Equal(t, domain.PhaseInCall, h.phase(s))

	_, _, applied := h.links.Last().Snapshot()
	require.Len(t, applied, 32)
	assert.Equal(t, candidate(9), applied[0])
	assert.Equal(t, candidate(40), applied[31])
}

func TestAudioIncapableMicToggleIsNoop(t *testing.T) {
	h := newHarness(t)
	h.local.CanSpeak = false
	h.devices.AudioErr = coretest.ErrDenied
	s := h.startCaller()
	h.deliver(protocol.Event{Type: protocol.TypeCallAccepted, Answer: answerSDP()})

	var before, after State
	h.do(func() {
		before = s.State()
		s.ToggleMic()
		after = s.State()
		assert.Nil(t, s.segmenter)
	})
	assert.Equal(t, before.LocalToggle, after.LocalToggle)
	assert.Empty(t, h.signal.SentOf(protocol.TypeToggleMic))

	h.do(s.ToggleVideo)
	toggles := h.signal.SentOf(protocol.TypeToggleVideo)
	require.Len(t, toggles, 1)
	assert.False(t, *toggles[0].IsVideoOn)
	assert.False(t, h.devices.VideoDev.Enabled())
}

func TestMicToggleNotifiesPeer(t *testing.T) {
	h := newHarness(t)
	s := h.startCaller()
	h.do(s.ToggleMic)
	h.do(s.ToggleMic)
	toggles := h.signal.SentOf(protocol.TypeToggleMic)
	require.Len(t, toggles, 2)
	assert.False(t, *toggles[0].IsMicOn)
	assert.True(t, *toggles[1].IsMicOn)
	assert.True(t, h.devices.AudioDev.Enabled())
}

func TestRingTimeout(t *testing.T) {
	h := newHarness(t)
	s := h.startCaller()

	h.clk.Step(44 * time.Second)
	h.loop.Sync()
	assert.Equal(t, domain.PhaseCalling, h.phase(s))

	h.clk.Step(time.Second)
	h.loop.Sync()
	assert.Equal(t, domain.PhaseEnded, h.phase(s))
	assert.Equal(t, ReasonNoAnswer, s.EndReason())
	assert.Len(t, h.signal.SentOf(protocol.TypeCallEnded), 1)
	assert.Contains(t, h.notifier.Texts(core.UINotice), "no answer")
}

func TestAcceptedStopsRingTimer(t *testing.T) {
	h := newHarness(t)
	s := h.startCaller()
	h.deliver(protocol.Event{Type: protocol.TypeCallAccepted, Answer: answerSDP()})
	h.clk.Step(time.Minute)
	h.loop.Sync()
	assert.Equal(t, domain.PhaseInCall, h.phase(s))
}

func TestDeviceFailureEndsBeforeLink(t *testing.T) {
	h := newHarness(t)
	h.devices.AudioErr = coretest.ErrDenied
	s := h.newSession(domain.RoleCaller, nil)
	h.do(s.Start)
	h.waitPhase(s, domain.PhaseEnded)

	var derr *core.DeviceError
	require.ErrorAs(t, s.Err(), &derr)
	assert.Equal(t, domain.KindAudio, derr.Kind)
	assert.Equal(t, 0, h.links.Count())
	assert.Equal(t, ReasonMedia, s.EndReason())
	assert.Empty(t, h.signal.SentOf(protocol.TypeCallEnded), "peer never heard of this call")
}

func TestHangUpDuringAcquisition(t *testing.T) {
	h := newHarness(t)
	h.devices.Gate = make(chan struct{})
	s := h.newSession(domain.RoleCaller, nil)
	h.do(s.Start)
	require.Eventually(t, func() bool { return h.devices.VideoOpens.Load() == 1 }, time.Second, time.Millisecond)

	h.do(s.HangUp)
	close(h.devices.Gate)

	require.Eventually(t, func() bool {
		return h.devices.VideoDev.Stops.Load() == 1 && h.devices.AudioDev.Stops.Load() == 1
	}, time.Second, time.Millisecond)
	h.loop.Sync()
	assert.Equal(t, 0, h.links.Count())
	assert.Equal(t, domain.PhaseEnded, h.phase(s))
}

func TestRelayLossEndsSession(t *testing.T) {
	h := newHarness(t)
	s := h.startCaller()
	h.deliver(protocol.Event{Type: protocol.TypeDisconnected})
	assert.Equal(t, domain.PhaseEnded, h.phase(s))
	assert.ErrorIs(t, s.Err(), core.ErrRelayLost)
	assert.Empty(t, h.signal.SentOf(protocol.TypeCallEnded))
}

func TestLinkFailureEndsSession(t *testing.T) {
	h := newHarness(t)
	s := h.startCaller()
	h.deliver(protocol.Event{Type: protocol.TypeCallAccepted, Answer: answerSDP()})
	h.links.Last().SetState(webrtc.PeerConnectionStateFailed)
	h.loop.Sync()
	assert.Equal(t, domain.PhaseEnded, h.phase(s))
	var nerr *core.NegotiationError
	assert.ErrorAs(t, s.Err(), &nerr)
}

func TestLocalCandidatesAreSent(t *testing.T) {
	h := newHarness(t)
	h.startCaller()
	h.links.Last().Gather(candidate(7))
	h.loop.Sync()
	sent := h.signal.SentOf(protocol.TypeICECandidate)
	require.Len(t, sent, 1)
	assert.Equal(t, domain.ParticipantID("bob"), sent[0].To)
	assert.Equal(t, candidate(7), *sent[0].Candidate)
}

func TestRemoteToggleIgnoredBeforeInCall(t *testing.T) {
	h := newHarness(t)
	s := h.startCaller()
	off := false
	h.deliver(protocol.Event{Type: protocol.TypeMicToggled, IsMicOn: &off})
	h.do(func() { assert.False(t, s.State().RemoteToggle.MicOn) })
	assert.Empty(t, h.notifier.Of(core.UIRemoteToggle))

	h.deliver(protocol.Event{Type: protocol.TypeCallAccepted, Answer: answerSDP()})
	on := true
	h.deliver(protocol.Event{Type: protocol.TypeVideoToggled, IsVideoOn: &on})
	h.do(func() { assert.True(t, s.State().RemoteToggle.VideoOn) })
	assert.Len(t, h.notifier.Of(core.UIRemoteToggle), 1)
}

func TestEventsFromOtherPeersIgnored(t *testing.T) {
	h := newHarness(t)
	s := h.startCaller()
	h.deliver(protocol.Event{Type: protocol.TypeCallEnded, From: &domain.Participant{ID: "carol"}})
	assert.Equal(t, domain.PhaseCalling, h.phase(s))
}

func TestCaptionDecays(t *testing.T) {
	h := newHarness(t)
	s := h.startCaller()
	h.deliver(protocol.Event{Type: protocol.TypeCallAccepted, Answer: answerSDP()})
	h.deliver(protocol.Event{Type: protocol.TypeSTTResult, Text: "good morning"})
	h.do(func() { assert.Equal(t, "good morning", s.State().Caption) })

	h.clk.Step(4 * time.Second)
	h.loop.Sync()
	h.do(func() { assert.Empty(t, s.State().Caption) })
	assert.Equal(t, []string{"good morning", ""}, h.notifier.Texts(core.UICaption))
}

func TestSpeechPlaybackRespectsCanHear(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte("mp3"))

	h := newHarness(t)
	s := h.startCaller()
	h.deliver(protocol.Event{Type: protocol.TypeCallAccepted, Answer: answerSDP()})
	h.deliver(protocol.Event{Type: protocol.TypePlayAudio, Audio: audio, Text: "hello"})
	assert.Equal(t, []string{"mp3"}, h.player.StartedClips())
	h.do(func() { assert.True(t, s.State().Playing) })

	deaf := newHarness(t)
	deaf.local.CanHear = false
	s2 := deaf.startCaller()
	deaf.deliver(protocol.Event{Type: protocol.TypeCallAccepted, Answer: answerSDP()})
	deaf.deliver(protocol.Event{Type: protocol.TypePlayAudio, Audio: audio, Text: "hello"})
	assert.Empty(t, deaf.player.StartedClips())
	assert.Equal(t, []string{"hello"}, deaf.notifier.Texts(core.UISpeech))
	assert.Equal(t, domain.PhaseInCall, deaf.phase(s2))
}

func TestSendText(t *testing.T) {
	h := newHarness(t)
	s := h.startCaller()
	h.do(func() { assert.ErrorIs(t, s.SendText("hi"), ErrNotInCall) })

	h.deliver(protocol.Event{Type: protocol.TypeCallAccepted, Answer: answerSDP()})
	h.do(func() {
		assert.ErrorIs(t, s.SendText(""), ErrEmptyText)
		assert.NoError(t, s.SendText("thank you"))
	})
	sent := h.signal.SentOf(protocol.TypeSendTextTTS)
	require.Len(t, sent, 1)
	assert.Equal(t, "thank you", sent[0].Text)
}

func TestSignRelayShipsFramesAndShowsLabels(t *testing.T) {
	h := newHarness(t)
	h.local.SignRelay = true
	s := h.startCaller()
	h.deliver(protocol.Event{Type: protocol.TypeCallAccepted, Answer: answerSDP()})

	h.clk.Step(DefaultConfig().Frames.Period)
	h.loop.Sync()
	require.Eventually(t, func() bool { return len(h.signal.SentOf(protocol.TypeProcessFrame)) == 1 }, time.Second, time.Millisecond)

	h.deliver(protocol.Event{Type: protocol.TypeSignPrediction, Label: "hello"})
	h.do(func() { assert.Equal(t, "hello", s.State().SignLabel) })
}
