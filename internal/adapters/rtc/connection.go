package rtc

import (
	"context"
	"sync"

	"github.com/dkeye/speakcall/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("peer link closed")

// WebRTCConnection is a PeerLink over one pion PeerConnection with trickle
// ICE. Callbacks fire on pion goroutines.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	sid    core.SessionID
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	onICE   func(webrtc.ICECandidateInit)
	onTrack func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onState func(webrtc.PeerConnectionState)

	closeOnce sync.Once
	closeErr  error
}

var _ core.PeerLink = (*WebRTCConnection)(nil)

func newConnection(pc *webrtc.PeerConnection, sid core.SessionID) *WebRTCConnection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &WebRTCConnection{pc: pc, sid: sid, ctx: ctx, cancel: cancel}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "adapters.rtc").Str("sid", string(c.sid)).Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "adapters.rtc").Str("sid", string(c.sid)).Str("peer_connection_state", s.String()).Msg("peer state")
		c.mu.RLock()
		fn := c.onState
		c.mu.RUnlock()
		if fn != nil {
			fn(s)
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.RLock()
		fn := c.onICE
		c.mu.RUnlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "adapters.rtc").
			Str("sid", string(c.sid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("codec", track.Codec().MimeType).
			Msg("remote track")
		c.mu.RLock()
		fn := c.onTrack
		c.mu.RUnlock()
		if fn != nil {
			fn(c.ctx, track, receiver)
		}
	})
	return c
}

func (c *WebRTCConnection) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, errors.Wrap(err, "add track")
	}
	// RTCP has to be read for interceptors to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return sender, nil
}

func (c *WebRTCConnection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, errors.Wrap(err, "create offer")
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, errors.Wrap(err, "set local offer")
	}
	return offer, nil
}

func (c *WebRTCConnection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, errors.Wrap(err, "set remote offer")
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, errors.Wrap(err, "create answer")
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, errors.Wrap(err, "set local answer")
	}
	return answer, nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return errors.Wrap(c.pc.SetRemoteDescription(answer), "set remote answer")
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return errors.Wrap(c.pc.AddICECandidate(ci), "add candidate")
}

func (c *WebRTCConnection) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

// OnTrack sets the callback for remote tracks. ctx ends when the link closes.
func (c *WebRTCConnection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *WebRTCConnection) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// Close is idempotent. Callbacks are dropped first so a closing link reports
// nothing more.
func (c *WebRTCConnection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.onICE, c.onTrack, c.onState = nil, nil, nil
		c.mu.Unlock()
		c.cancel()
		if err := c.pc.Close(); err != nil {
			c.closeErr = errors.Wrap(err, "close peer connection")
			log.Error().Err(err).Str("module", "adapters.rtc").Str("sid", string(c.sid)).Msg("close error")
			return
		}
		log.Info().Str("module", "adapters.rtc").Str("sid", string(c.sid)).Msg("closed")
	})
	return c.closeErr
}
