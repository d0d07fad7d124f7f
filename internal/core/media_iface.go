package core

import (
	"context"
	"image"

	"github.com/dkeye/speakcall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// PeerLink is one peer-to-peer media connection. It is never reused after
// Close.
type PeerLink interface {
	// AddLocalTrack attaches a local track to the underlying PeerConnection.
	AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	// CreateOffer creates an offer and sets it as local description.
	CreateOffer() (webrtc.SessionDescription, error)
	ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	HasRemoteDescription() bool
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	OnStateChange(func(webrtc.PeerConnectionState))
	// Close should stop all underlying media resources.
	Close() error
}

type PeerLinkFactory interface {
	NewPeerLink(id SessionID) (PeerLink, error)
}

// Device is one local capture source feeding a local track.
type Device interface {
	Kind() domain.TrackKind
	Track() webrtc.TrackLocal
	// SetEnabled mutes or blanks the device without stopping it.
	SetEnabled(on bool)
	Enabled() bool
	// Stop releases the device. Safe to call more than once.
	Stop() error
}

type AudioDevice interface {
	Device
	// Level is the current input energy on a 0..255 scale.
	Level() float64
	// Subscribe returns a copy of every captured sample until cancel is called.
	Subscribe(buf int) (samples <-chan media.Sample, cancel func())
}

type VideoDevice interface {
	Device
	Snapshot() (image.Image, error)
}

type DeviceProvider interface {
	OpenAudio(ctx context.Context) (AudioDevice, error)
	OpenVideo(ctx context.Context) (VideoDevice, error)
}
