// Package rtc provides PeerLinks backed by pion/webrtc.
package rtc

import (
	"time"

	"github.com/dkeye/speakcall/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Config struct {
	ICEServers []string
	// PortMin and PortMax bound the UDP ports ICE may use. Zero means any.
	PortMin uint16
	PortMax uint16
	// DisconnectedTimeout is how long ICE may stay disconnected before the
	// link is reported failed.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		ICEServers:          []string{"stun:stun.l.google.com:19302"},
		DisconnectedTimeout: 5 * time.Second,
		FailedTimeout:       25 * time.Second,
	}
}

type Option func(*webrtc.SettingEngine)

// WithNet swaps the network stack, e.g. for a virtual network in tests.
func WithNet(n transport.Net) Option {
	return func(se *webrtc.SettingEngine) { se.SetNet(n) }
}

// Factory creates one WebRTCConnection per session from a shared API.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

var _ core.PeerLinkFactory = (*Factory)(nil)

func NewFactory(cfg Config, opts ...Option) (*Factory, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Wrap(err, "register codecs")
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, errors.Wrap(err, "register interceptors")
	}

	se := webrtc.SettingEngine{LoggerFactory: LoggerFactory{}}
	if cfg.DisconnectedTimeout > 0 || cfg.FailedTimeout > 0 {
		se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, 2*time.Second)
	}
	if cfg.PortMin != 0 || cfg.PortMax != 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax); err != nil {
			return nil, errors.Wrap(err, "udp port range")
		}
	}
	for _, opt := range opts {
		opt(&se)
	}

	var servers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	log.Info().Str("module", "adapters.rtc").Strs("ice_servers", cfg.ICEServers).Msg("peer link factory ready")
	return &Factory{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithInterceptorRegistry(ir), webrtc.WithSettingEngine(se)),
		cfg: webrtc.Configuration{ICEServers: servers},
	}, nil
}

func (f *Factory) NewPeerLink(id core.SessionID) (core.PeerLink, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, errors.Wrap(err, "new peer connection")
	}
	return newConnection(pc, id), nil
}
