package rtc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/speakcall/internal/core"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVNetFactories(t *testing.T) (*Factory, *Factory) {
	t.Helper()
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	require.NoError(t, err)
	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	require.NoError(t, err)
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	require.NoError(t, err)
	require.NoError(t, router.AddNet(netA))
	require.NoError(t, router.AddNet(netB))
	require.NoError(t, router.Start())
	t.Cleanup(func() { _ = router.Stop() })

	cfg := Config{}
	fa, err := NewFactory(cfg, WithNet(netA))
	require.NoError(t, err)
	fb, err := NewFactory(cfg, WithNet(netB))
	require.NoError(t, err)
	return fa, fb
}

// trickle forwards candidates from one link to the other once the other has
// a remote description.
type trickle struct {
	mu      sync.Mutex
	to      core.PeerLink
	ready   bool
	pending []webrtc.ICECandidateInit
}

func (tr *trickle) add(c webrtc.ICECandidateInit) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if !tr.ready {
		tr.pending = append(tr.pending, c)
		return
	}
	_ = tr.to.AddICECandidate(c)
}

func (tr *trickle) open() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.ready = true
	for _, c := range tr.pending {
		_ = tr.to.AddICECandidate(c)
	}
	tr.pending = nil
}

func stateWatcher(link core.PeerLink) <-chan webrtc.PeerConnectionState {
	ch := make(chan webrtc.PeerConnectionState, 16)
	link.OnStateChange(func(s webrtc.PeerConnectionState) {
		select {
		case ch <- s:
		default:
		}
	})
	return ch
}

func waitState(t *testing.T, ch <-chan webrtc.PeerConnectionState, want webrtc.PeerConnectionState) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case s := <-ch:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestLinksConnectOverVirtualNetwork(t *testing.T) {
	fa, fb := newVNetFactories(t)

	caller, err := fa.NewPeerLink("caller")
	require.NoError(t, err)
	callee, err := fb.NewPeerLink("callee")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = caller.Close()
		_ = callee.Close()
	})

	toCallee := &trickle{to: callee}
	toCaller := &trickle{to: caller}
	caller.OnICECandidate(toCallee.add)
	callee.OnICECandidate(toCaller.add)
	callerState := stateWatcher(caller)
	calleeState := stateWatcher(callee)

	tracks := make(chan context.Context, 1)
	callee.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		assert.Equal(t, webrtc.RTPCodecTypeAudio, track.Kind())
		tracks <- ctx
	})

	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	require.NoError(t, err)
	_, err = caller.AddLocalTrack(audio)
	require.NoError(t, err)

	assert.False(t, callee.HasRemoteDescription())
	offer, err := caller.CreateOffer()
	require.NoError(t, err)
	answer, err := callee.ApplyOfferAndCreateAnswer(offer)
	require.NoError(t, err)
	assert.True(t, callee.HasRemoteDescription())
	toCallee.open()
	require.NoError(t, caller.ApplyAnswer(answer))
	toCaller.open()

	waitState(t, callerState, webrtc.PeerConnectionStateConnected)
	waitState(t, calleeState, webrtc.PeerConnectionStateConnected)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				_ = audio.WriteSample(media.Sample{Data: []byte{0xf8, 0xff, 0xfe}, Duration: 20 * time.Millisecond})
			}
		}
	}()

	var trackCtx context.Context
	select {
	case trackCtx = <-tracks:
	case <-time.After(10 * time.Second):
		t.Fatal("remote track never arrived")
	}

	require.NoError(t, callee.Close())
	require.NoError(t, callee.Close())
	select {
	case <-trackCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("track context not cancelled on close")
	}
}

func TestCandidateBeforeRemoteDescriptionFails(t *testing.T) {
	f, err := NewFactory(Config{})
	require.NoError(t, err)
	link, err := f.NewPeerLink("x")
	require.NoError(t, err)
	defer link.Close()

	err = link.AddICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.9 5000 typ host"})
	assert.Error(t, err)
	assert.Error(t, link.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "garbage"}))
}
