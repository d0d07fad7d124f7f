package orch

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/speakcall/internal/app/loop"
	"github.com/dkeye/speakcall/internal/app/session"
	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/core/coretest"
	"github.com/dkeye/speakcall/internal/domain"
	"github.com/dkeye/speakcall/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

type fixture struct {
	t        *testing.T
	loop     *loop.Loop
	signal   *coretest.Signal
	links    *coretest.LinkFactory
	notifier *coretest.Notifier
	agent    *Agent
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	l := loop.New(clocktesting.NewFakeClock(time.Unix(1_700_000_000, 0)), 64)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	if cfg.Session.RingTimeout == 0 {
		cfg.Session = session.DefaultConfig()
	}
	f := &fixture{
		t:        t,
		loop:     l,
		signal:   &coretest.Signal{},
		links:    &coretest.LinkFactory{},
		notifier: &coretest.Notifier{},
	}
	local := domain.Participant{ID: "alice", Name: "Alice", CanHear: true, CanSpeak: true}
	f.agent = New(cfg, local, session.Deps{
		Loop:     l,
		Signal:   f.signal,
		Devices:  coretest.NewProvider(),
		Links:    f.links,
		Notifier: f.notifier,
	})
	f.do(f.agent.Start)
	return f
}

func (f *fixture) do(fn func()) {
	f.t.Helper()
	require.NoError(f.t, f.loop.Do(context.Background(), fn))
}

func (f *fixture) deliver(ev protocol.Event) {
	f.do(func() { f.signal.Deliver(ev) })
}

func (f *fixture) state() AgentState {
	f.t.Helper()
	st, err := f.agent.State(context.Background())
	require.NoError(f.t, err)
	return st
}

func (f *fixture) waitPhase(want string) {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		st := f.state()
		return st.Session != nil && st.Session.Phase == want
	}, 2*time.Second, time.Millisecond)
}

func incoming(from domain.ParticipantID) protocol.Event {
	return protocol.Event{
		Type:  protocol.TypeIncomingCall,
		From:  &domain.Participant{ID: from, Name: string(from)},
		Offer: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"},
	}
}

func TestAnnounceOnConnect(t *testing.T) {
	f := newFixture(t, Config{})
	f.deliver(protocol.Event{Type: protocol.TypeConnected})
	f.deliver(protocol.Event{Type: protocol.TypeConnected})
	sent := f.signal.SentOf(protocol.TypeUserOnline)
	require.Len(t, sent, 2)
	assert.Equal(t, domain.ParticipantID("alice"), sent[0].User.ID)
}

func TestOnlineUsersExcludeSelf(t *testing.T) {
	f := newFixture(t, Config{})
	f.deliver(protocol.OnlineUsers([]domain.Participant{{ID: "carol"}, {ID: "alice"}, {ID: "bob"}}))
	online, err := f.agent.Online(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Participant{{ID: "bob"}, {ID: "carol"}}, online)

	f.deliver(protocol.Event{Type: protocol.TypeDisconnected})
	assert.Empty(t, f.state().Online)
}

func TestCallRejectsBadTargets(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	assert.ErrorIs(t, f.agent.Call(ctx, "alice"), ErrSelfCall)
	assert.ErrorIs(t, f.agent.Call(ctx, ""), domain.ErrIDEmpty)
	assert.ErrorIs(t, f.agent.HangUp(ctx), ErrNoSession)
	assert.ErrorIs(t, f.agent.Answer(ctx), ErrNoIncoming)
}

func TestOneSessionAtATime(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.agent.Call(ctx, "bob"))
	assert.ErrorIs(t, f.agent.Call(ctx, "carol"), ErrBusy)
	f.waitPhase("calling")

	// a second caller gets turned away
	f.deliver(incoming("carol"))
	rejects := f.signal.SentOf(protocol.TypeRejectCall)
	require.Len(t, rejects, 1)
	assert.Equal(t, domain.ParticipantID("carol"), rejects[0].To)
	assert.Nil(t, f.state().Incoming)
}

func TestSessionSlotFreedAfterEnd(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.agent.Call(ctx, "bob"))
	f.waitPhase("calling")
	require.NoError(t, f.agent.HangUp(ctx))

	st := f.state()
	assert.Nil(t, st.Session)
	require.NotNil(t, st.Last)
	assert.Equal(t, session.ReasonHangup, st.Last.EndReason)

	require.NoError(t, f.agent.Call(ctx, "carol"))
	f.waitPhase("calling")
	assert.Equal(t, 2, f.links.Count())
}

func TestAnswerIncoming(t *testing.T) {
	f := newFixture(t, Config{})
	f.deliver(incoming("bob"))
	st := f.state()
	require.NotNil(t, st.Incoming)
	assert.Equal(t, domain.ParticipantID("bob"), st.Incoming.ID)
	assert.Len(t, f.notifier.Of(core.UIIncomingCall), 1)

	require.NoError(t, f.agent.Answer(context.Background()))
	f.waitPhase("in-call")
	answers := f.signal.SentOf(protocol.TypeAnswerCall)
	require.Len(t, answers, 1)
	assert.Equal(t, domain.ParticipantID("bob"), answers[0].To)
}

func TestRejectIncoming(t *testing.T) {
	f := newFixture(t, Config{})
	f.deliver(incoming("bob"))
	require.NoError(t, f.agent.Reject(context.Background()))
	rejects := f.signal.SentOf(protocol.TypeRejectCall)
	require.Len(t, rejects, 1)
	assert.Equal(t, domain.ParticipantID("bob"), rejects[0].To)
	assert.Nil(t, f.state().Incoming)
	assert.Equal(t, 0, f.links.Count())
}

func TestCallerCancelClearsIncoming(t *testing.T) {
	f := newFixture(t, Config{})
	f.deliver(incoming("bob"))
	f.deliver(protocol.Event{Type: protocol.TypeCallEnded, From: &domain.Participant{ID: "carol"}})
	require.NotNil(t, f.state().Incoming, "only the caller can cancel")

	f.deliver(protocol.Event{Type: protocol.TypeCallEnded, From: &domain.Participant{ID: "bob"}})
	assert.Nil(t, f.state().Incoming)
	assert.Contains(t, f.notifier.Texts(core.UINotice), "missed call from bob")
	assert.ErrorIs(t, f.agent.Answer(context.Background()), ErrNoIncoming)
}

func candidate(from domain.ParticipantID, c string) protocol.Event {
	return protocol.Event{
		Type:      protocol.TypeICECandidate,
		From:      &domain.Participant{ID: from},
		Candidate: &webrtc.ICECandidateInit{Candidate: c},
	}
}

func TestCandidatesWhileRingingReachTheLink(t *testing.T) {
	f := newFixture(t, Config{})
	f.deliver(incoming("bob"))
	f.deliver(candidate("bob", "candidate:1"))
	f.deliver(candidate("carol", "candidate:stray"))
	f.deliver(candidate("bob", "candidate:2"))

	require.NoError(t, f.agent.Answer(context.Background()))
	f.waitPhase("in-call")

	_, _, applied := f.links.Last().Snapshot()
	require.Len(t, applied, 2)
	assert.Equal(t, "candidate:1", applied[0].Candidate)
	assert.Equal(t, "candidate:2", applied[1].Candidate)
}

func TestRingingCandidateBufferIsBounded(t *testing.T) {
	cfg := Config{Session: session.DefaultConfig()}
	cfg.Session.CandidateBuffer = 2
	f := newFixture(t, cfg)
	f.deliver(incoming("bob"))
	for _, c := range []string{"candidate:1", "candidate:2", "candidate:3"} {
		f.deliver(candidate("bob", c))
	}

	require.NoError(t, f.agent.Answer(context.Background()))
	f.waitPhase("in-call")

	_, _, applied := f.links.Last().Snapshot()
	require.Len(t, applied, 2)
	assert.Equal(t, "candidate:2", applied[0].Candidate)
	assert.Equal(t, "candidate:3", applied[1].Candidate)
}

func TestCandidatesWithoutIncomingCallIgnored(t *testing.T) {
	f := newFixture(t, Config{})
	f.deliver(candidate("bob", "candidate:1"))
	f.deliver(incoming("bob"))

	require.NoError(t, f.agent.Answer(context.Background()))
	f.waitPhase("in-call")

	_, _, applied := f.links.Last().Snapshot()
	assert.Empty(t, applied)
}

func TestAutoAnswer(t *testing.T) {
	f := newFixture(t, Config{AutoAnswer: true})
	f.deliver(incoming("bob"))
	f.waitPhase("in-call")
	assert.Len(t, f.signal.SentOf(protocol.TypeAnswerCall), 1)
}

func TestControlsNeedSession(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	assert.ErrorIs(t, f.agent.ToggleMic(ctx), ErrNoSession)
	assert.ErrorIs(t, f.agent.ToggleVideo(ctx), ErrNoSession)
	assert.ErrorIs(t, f.agent.SendText(ctx, "hi"), ErrNoSession)

	require.NoError(t, f.agent.Call(ctx, "bob"))
	f.waitPhase("calling")
	assert.ErrorIs(t, f.agent.SendText(ctx, "hi"), session.ErrNotInCall)
	require.NoError(t, f.agent.ToggleMic(ctx))
	assert.Len(t, f.signal.SentOf(protocol.TypeToggleMic), 1)
}

func TestStopHangsUp(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.agent.Call(context.Background(), "bob"))
	f.waitPhase("calling")
	f.do(f.agent.Stop)
	assert.Len(t, f.signal.SentOf(protocol.TypeCallEnded), 1)
	assert.Equal(t, 0, f.signal.Subscribers())
}
