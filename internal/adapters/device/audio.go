package device

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Opus packets at or below quietBytes are treated as silence, and packets at
// loudBytes or above as full level. Without decoding, packet size is the
// cheapest usable proxy for input energy.
const (
	quietBytes = 10
	loudBytes  = 120
)

// PacketLevel maps an Opus packet to the 0..255 level scale.
func PacketLevel(packet []byte) float64 {
	n := len(packet)
	if n <= quietBytes {
		return 0
	}
	if n >= loudBytes {
		return 255
	}
	return math.Round(float64(n-quietBytes) * 255 / float64(loudBytes-quietBytes))
}

// FileAudio plays an Ogg/Opus file into a local track.
type FileAudio struct {
	path  string
	track *webrtc.TrackLocalStaticSample
	loop  bool

	enabled atomic.Bool
	level   atomic.Uint64

	mu     sync.Mutex
	subs   map[int]chan media.Sample
	nextID int

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

var _ core.AudioDevice = (*FileAudio)(nil)

func openAudio(path string, loop bool) (*FileAudio, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "speakcall-"+uuid.NewString())
	if err != nil {
		return nil, pkgerrors.Wrap(err, "audio track")
	}
	// Fail early on a file that is not Ogg/Opus.
	f, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open audio")
	}
	_, _, err = oggreader.NewWith(f)
	_ = f.Close()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "read ogg header")
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &FileAudio{
		path:   path,
		track:  track,
		loop:   loop,
		subs:   make(map[int]chan media.Sample),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	a.enabled.Store(true)
	go a.run(ctx)
	log.Info().Str("module", "adapters.device").Str("file", path).Msg("audio device opened")
	return a, nil
}

func (a *FileAudio) Kind() domain.TrackKind   { return domain.KindAudio }
func (a *FileAudio) Track() webrtc.TrackLocal { return a.track }
func (a *FileAudio) Enabled() bool            { return a.enabled.Load() }

func (a *FileAudio) SetEnabled(on bool) {
	a.enabled.Store(on)
	if !on {
		a.setLevel(0)
	}
}

func (a *FileAudio) Level() float64 { return math.Float64frombits(a.level.Load()) }

func (a *FileAudio) setLevel(v float64) { a.level.Store(math.Float64bits(v)) }

func (a *FileAudio) Subscribe(buf int) (<-chan media.Sample, func()) {
	ch := make(chan media.Sample, buf)
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.subs[id] = ch
	a.mu.Unlock()
	return ch, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if c, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(c)
		}
	}
}

// Stop ends playback and closes every subscription.
func (a *FileAudio) Stop() error {
	a.once.Do(func() {
		a.cancel()
		<-a.done
		a.mu.Lock()
		for id, c := range a.subs {
			delete(a.subs, id)
			close(c)
		}
		a.mu.Unlock()
		a.setLevel(0)
		log.Info().Str("module", "adapters.device").Str("file", a.path).Msg("audio device stopped")
	})
	return nil
}

func (a *FileAudio) run(ctx context.Context) {
	defer close(a.done)
	for {
		start := time.Now()
		err := a.playOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.device").Str("file", a.path).Msg("audio playback")
			return
		}
		if !a.loop {
			a.setLevel(0)
			return
		}
		// A file with no timed pages must not spin.
		if time.Since(start) < minPass {
			select {
			case <-ctx.Done():
				return
			case <-time.After(minPass):
			}
		}
	}
}

const minPass = 20 * time.Millisecond

func (a *FileAudio) playOnce(ctx context.Context) error {
	f, err := os.Open(a.path)
	if err != nil {
		return err
	}
	defer f.Close()
	ogg, _, err := oggreader.NewWith(f)
	if err != nil {
		return err
	}

	var lastGranule uint64
	for {
		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if bytes.HasPrefix(page, []byte("OpusTags")) {
			continue
		}
		samples := header.GranulePosition - lastGranule
		if header.GranulePosition < lastGranule {
			samples = 0
		}
		lastGranule = header.GranulePosition
		d := time.Duration(float64(samples) / 48000 * float64(time.Second))

		if d > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		a.emit(media.Sample{Data: page, Duration: d})
	}
}

func (a *FileAudio) emit(s media.Sample) {
	if !a.enabled.Load() {
		return
	}
	a.setLevel(PacketLevel(s.Data))
	if err := a.track.WriteSample(s); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		log.Debug().Err(err).Str("module", "adapters.device").Msg("write audio sample")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.subs {
		select {
		case c <- s:
		default:
		}
	}
}
