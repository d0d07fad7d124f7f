// Package frames periodically ships downscaled camera snapshots to the
// relay for sign recognition and shows the labels that come back.
package frames

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"time"

	"github.com/dkeye/speakcall/internal/app/loop"
	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/metrics"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	"golang.org/x/time/rate"
)

const dataURLPrefix = "data:image/jpeg;base64,"

// A tick may run up to Period/jitterSlack sooner after the previous one.
// Ticks keep a fixed schedule, so a late tick followed by an on-time one
// measures slightly under the period.
const jitterSlack = 10

type Config struct {
	Period   time.Duration
	Width    int
	Height   int
	Quality  int
	LabelTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Period:   500 * time.Millisecond,
		Width:    320,
		Height:   240,
		Quality:  50,
		LabelTTL: 2 * time.Second,
	}
}

// Relay lives on the loop. Snapshots are taken on the loop; scaling and
// encoding run on a helper goroutine and at most one frame is in flight.
type Relay struct {
	cfg     Config
	loop    *loop.Loop
	dev     core.VideoDevice
	send    func(image string) error
	onLabel func(label string)
	metrics *metrics.Metrics

	limiter  *rate.Limiter
	tick     *loop.Timer
	inFlight bool
	running  bool

	label      string
	labelTimer *loop.Timer
}

// NewRelay wires the pipeline. send ships one encoded frame; onLabel shows a
// label, or clears it when given "".
func NewRelay(cfg Config, l *loop.Loop, dev core.VideoDevice, send func(string) error, onLabel func(string), m *metrics.Metrics) *Relay {
	return &Relay{
		cfg:     cfg,
		loop:    l,
		dev:     dev,
		send:    send,
		onLabel: onLabel,
		metrics: m,
		limiter: rate.NewLimiter(rate.Every(cfg.Period-cfg.Period/jitterSlack), 1),
	}
}

func (r *Relay) Running() bool { return r.running }
func (r *Relay) Label() string { return r.label }

func (r *Relay) Start() {
	if r.running {
		return
	}
	r.running = true
	r.tick = r.loop.Every(r.cfg.Period, r.sample)
	log.Debug().Str("module", "app.frames").Dur("period", r.cfg.Period).Msg("frame relay started")
}

// Stop halts sampling and clears any label still shown.
func (r *Relay) Stop() {
	if r.running {
		r.running = false
		r.tick.Stop()
	}
	r.labelTimer.Stop()
	r.labelTimer = nil
	if r.label != "" {
		r.label = ""
		r.onLabel("")
	}
}

func (r *Relay) sample() {
	if !r.running {
		return
	}
	if r.inFlight || !r.limiter.AllowN(r.loop.Now(), 1) {
		r.metrics.RecordFrame(false)
		return
	}
	if !r.dev.Enabled() {
		return
	}
	img, err := r.dev.Snapshot()
	if err != nil {
		log.Debug().Str("module", "app.frames").Err(err).Msg("snapshot unavailable")
		return
	}

	r.inFlight = true
	r.loop.Go(func() func() {
		url, err := Encode(img, r.cfg.Width, r.cfg.Height, r.cfg.Quality)
		return func() {
			r.inFlight = false
			if err != nil {
				log.Error().Str("module", "app.frames").Err(err).Msg("encode frame")
				return
			}
			if !r.running {
				return
			}
			if err := r.send(url); err != nil {
				log.Warn().Str("module", "app.frames").Err(err).Msg("send frame")
				return
			}
			r.metrics.RecordFrame(true)
		}
	})
}

// ShowLabel surfaces a recognized sign and clears it after the TTL unless a
// newer label arrives first.
func (r *Relay) ShowLabel(label string) {
	if label == "" {
		return
	}
	r.label = label
	r.onLabel(label)
	r.labelTimer.Stop()
	r.labelTimer = r.loop.AfterFunc(r.cfg.LabelTTL, func() {
		r.label = ""
		r.labelTimer = nil
		r.onLabel("")
	})
}

// Encode scales img into a w×h frame and returns it as a JPEG data URL.
func Encode(img image.Image, w, h, quality int) (string, error) {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return "", errors.Wrap(err, "jpeg encode")
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
