// Package coretest holds in-memory fakes of the core interfaces for tests.
package coretest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

var ErrDenied = errors.New("permission denied")

type fakeDevice struct {
	kind    domain.TrackKind
	track   webrtc.TrackLocal
	enabled atomic.Bool
	Stops   atomic.Int32
}

func (d *fakeDevice) init(kind domain.TrackKind) {
	mime := webrtc.MimeTypeOpus
	if kind == domain.KindVideo {
		mime = webrtc.MimeTypeVP8
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, string(kind), "coretest")
	if err != nil {
		panic(err)
	}
	d.kind, d.track = kind, track
	d.enabled.Store(true)
}

func (d *fakeDevice) Kind() domain.TrackKind   { return d.kind }
func (d *fakeDevice) Track() webrtc.TrackLocal { return d.track }
func (d *fakeDevice) SetEnabled(on bool)       { d.enabled.Store(on) }
func (d *fakeDevice) Enabled() bool            { return d.enabled.Load() }
func (d *fakeDevice) Stop() error {
	d.Stops.Add(1)
	return nil
}

// Audio is an audio device whose level is set by the test.
type Audio struct {
	fakeDevice
	level atomic.Uint64

	mu   sync.Mutex
	subs []chan media.Sample
}

func NewAudio() *Audio {
	a := &Audio{}
	a.init(domain.KindAudio)
	return a
}

func (a *Audio) SetLevel(v float64) { a.level.Store(uint64(v)) }
func (a *Audio) Level() float64     { return float64(a.level.Load()) }

func (a *Audio) Subscribe(buf int) (<-chan media.Sample, func()) {
	ch := make(chan media.Sample, buf)
	a.mu.Lock()
	a.subs = append(a.subs, ch)
	a.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			for i, c := range a.subs {
				if c == ch {
					a.subs = append(a.subs[:i], a.subs[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
}

// Emit delivers one sample to every subscriber without blocking.
func (a *Audio) Emit(s media.Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.subs {
		select {
		case c <- s:
		default:
		}
	}
}

func (a *Audio) Subscribers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs)
}

// Video is a video device returning a flat gray frame.
type Video struct {
	fakeDevice
	Snapshots atomic.Int32
	Width     int
	Height    int
}

func NewVideo() *Video {
	v := &Video{Width: 640, Height: 480}
	v.init(domain.KindVideo)
	return v
}

func (v *Video) Snapshot() (image.Image, error) {
	v.Snapshots.Add(1)
	img := image.NewRGBA(image.Rect(0, 0, v.Width, v.Height))
	for y := 0; y < v.Height; y++ {
		for x := 0; x < v.Width; x++ {
			img.Set(x, y, color.Gray{Y: 128})
		}
	}
	return img, nil
}

// Provider hands out the configured fakes. A non-nil error field makes the
// matching Open fail. Gate, when set, blocks Open until closed.
type Provider struct {
	AudioDev *Audio
	VideoDev *Video
	AudioErr error
	VideoErr error
	Gate     chan struct{}

	AudioOpens atomic.Int32
	VideoOpens atomic.Int32
}

func NewProvider() *Provider {
	return &Provider{AudioDev: NewAudio(), VideoDev: NewVideo()}
}

func (p *Provider) wait(ctx context.Context) {
	if p.Gate == nil {
		return
	}
	select {
	case <-p.Gate:
	case <-ctx.Done():
	}
}

func (p *Provider) OpenAudio(ctx context.Context) (core.AudioDevice, error) {
	p.AudioOpens.Add(1)
	p.wait(ctx)
	if p.AudioErr != nil {
		return nil, p.AudioErr
	}
	return p.AudioDev, nil
}

func (p *Provider) OpenVideo(ctx context.Context) (core.VideoDevice, error) {
	p.VideoOpens.Add(1)
	p.wait(ctx)
	if p.VideoErr != nil {
		return nil, p.VideoErr
	}
	return p.VideoDev, nil
}
