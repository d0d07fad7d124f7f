package device

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/vp8"
)

// IsKeyframe reports whether a VP8 frame is intra-coded.
func IsKeyframe(frame []byte) bool {
	return len(frame) > 0 && frame[0]&0x01 == 0
}

// FileVideo plays an IVF/VP8 file into a local track. Snapshots decode the
// most recent keyframe, since only keyframes decode on their own.
type FileVideo struct {
	path  string
	track *webrtc.TrackLocalStaticSample
	loop  bool

	enabled atomic.Bool

	mu       sync.Mutex
	keyframe []byte
	decoded  image.Image

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

var _ core.VideoDevice = (*FileVideo)(nil)

func openVideo(path string, loop bool) (*FileVideo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open video")
	}
	_, header, err := ivfreader.NewWith(f)
	_ = f.Close()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "read ivf header")
	}
	if header.FourCC != "VP80" {
		return nil, pkgerrors.Errorf("unsupported codec %q", header.FourCC)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "speakcall-"+uuid.NewString())
	if err != nil {
		return nil, pkgerrors.Wrap(err, "video track")
	}

	ctx, cancel := context.WithCancel(context.Background())
	v := &FileVideo{
		path:   path,
		track:  track,
		loop:   loop,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	v.enabled.Store(true)
	go v.run(ctx)
	log.Info().Str("module", "adapters.device").Str("file", path).
		Uint16("width", header.Width).Uint16("height", header.Height).
		Msg("video device opened")
	return v, nil
}

func (v *FileVideo) Kind() domain.TrackKind   { return domain.KindVideo }
func (v *FileVideo) Track() webrtc.TrackLocal { return v.track }
func (v *FileVideo) SetEnabled(on bool)       { v.enabled.Store(on) }
func (v *FileVideo) Enabled() bool            { return v.enabled.Load() }

func (v *FileVideo) Stop() error {
	v.once.Do(func() {
		v.cancel()
		<-v.done
		log.Info().Str("module", "adapters.device").Str("file", v.path).Msg("video device stopped")
	})
	return nil
}

func (v *FileVideo) Snapshot() (image.Image, error) {
	if !v.enabled.Load() {
		return nil, ErrDisabled
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.decoded != nil {
		return v.decoded, nil
	}
	if v.keyframe == nil {
		return nil, ErrNoKeyframe
	}
	d := vp8.NewDecoder()
	d.Init(bytes.NewReader(v.keyframe), len(v.keyframe))
	if _, err := d.DecodeFrameHeader(); err != nil {
		return nil, pkgerrors.Wrap(err, "vp8 header")
	}
	img, err := d.DecodeFrame()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "vp8 frame")
	}
	v.decoded = img
	return img, nil
}

func (v *FileVideo) run(ctx context.Context) {
	defer close(v.done)
	for {
		start := time.Now()
		err := v.playOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.device").Str("file", v.path).Msg("video playback")
			return
		}
		if !v.loop {
			return
		}
		if time.Since(start) < minPass {
			select {
			case <-ctx.Done():
				return
			case <-time.After(minPass):
			}
		}
	}
}

func (v *FileVideo) playOnce(ctx context.Context) error {
	f, err := os.Open(v.path)
	if err != nil {
		return err
	}
	defer f.Close()
	ivf, header, err := ivfreader.NewWith(f)
	if err != nil {
		return err
	}
	frameDur := time.Second / 30
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		frameDur = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}

	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()
	for {
		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		v.emit(frame, frameDur)
	}
}

func (v *FileVideo) emit(frame []byte, d time.Duration) {
	if IsKeyframe(frame) {
		v.mu.Lock()
		v.keyframe = frame
		v.decoded = nil
		v.mu.Unlock()
	}
	if !v.enabled.Load() {
		return
	}
	if err := v.track.WriteSample(media.Sample{Data: frame, Duration: d}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		log.Debug().Err(err).Str("module", "adapters.device").Msg("write video sample")
	}
}
