package vad

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/speakcall/internal/app/loop"
	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/metrics"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const segmentFilename = "segment.webm"

// Segment is one recorded stretch of microphone input.
type Segment struct {
	Start     time.Time
	End       time.Time
	Samples   []media.Sample
	HadSpeech bool
}

// Segmenter runs on the loop. It records microphone samples, ticks the
// detector and ships every closed segment to the transcriber off-loop.
// Non-empty transcripts come back through onText on the loop.
type Segmenter struct {
	cfg     Config
	loop    *loop.Loop
	dev     core.AudioDevice
	stt     core.Transcriber
	onText  func(text string)
	metrics *metrics.Metrics

	det     *Detector
	rec     *recorder
	tick    *loop.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

func NewSegmenter(cfg Config, l *loop.Loop, dev core.AudioDevice, stt core.Transcriber, onText func(string), m *metrics.Metrics) *Segmenter {
	return &Segmenter{cfg: cfg, loop: l, dev: dev, stt: stt, onText: onText, metrics: m}
}

func (s *Segmenter) Running() bool { return s.running }

func (s *Segmenter) Start() {
	if s.running {
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.det = NewDetector(s.cfg, s.loop.Now())
	s.rec = startRecorder(s.dev)
	s.tick = s.loop.Every(s.cfg.Tick, s.onTick)
	log.Debug().Str("module", "app.vad").Msg("segmenter started")
}

// Stop halts ticking and recording and abandons in-flight transcriptions.
func (s *Segmenter) Stop() {
	if !s.running {
		return
	}
	s.running = false
	s.tick.Stop()
	s.rec.stop()
	s.cancel()
	log.Debug().Str("module", "app.vad").Msg("segmenter stopped")
}

func (s *Segmenter) onTick() {
	if !s.running {
		return
	}
	now := s.loop.Now()
	switch s.det.Observe(now, s.dev.Level()) {
	case Continue:
		return
	case Discard:
		s.rec.cut()
		s.metrics.RecordSegment(false)
	case Close:
		seg := Segment{Start: s.det.segmentStart, End: now, Samples: s.rec.cut(), HadSpeech: true}
		s.metrics.RecordSegment(true)
		s.ship(seg)
	}
	s.det.Reset(now)
}

func (s *Segmenter) ship(seg Segment) {
	ctx := s.ctx
	log.Info().Str("module", "app.vad").
		Dur("length", seg.End.Sub(seg.Start)).
		Int("samples", len(seg.Samples)).
		Msg("segment closed")

	s.loop.Go(func() func() {
		audio, err := EncodeWebM(seg.Samples)
		if err != nil {
			log.Error().Str("module", "app.vad").Err(err).Msg("mux segment")
			return nil
		}
		started := time.Now()
		text, err := s.stt.Transcribe(ctx, audio, segmentFilename)
		s.metrics.RecordTranscription(time.Since(started), err)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Str("module", "app.vad").Err(&core.BackendError{Service: "stt", Err: err}).Msg("transcription failed")
			}
			return nil
		}
		if text == "" {
			return nil
		}
		return func() {
			if ctx.Err() != nil {
				return
			}
			s.onText(text)
		}
	})
}

type recorder struct {
	mu      sync.Mutex
	samples []media.Sample
	cancel  func()
}

func startRecorder(dev core.AudioDevice) *recorder {
	ch, cancel := dev.Subscribe(64)
	r := &recorder{cancel: cancel}
	go func() {
		for s := range ch {
			r.mu.Lock()
			r.samples = append(r.samples, s)
			r.mu.Unlock()
		}
	}()
	return r
}

// cut returns everything recorded so far and starts over.
func (r *recorder) cut() []media.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.samples
	r.samples = nil
	return out
}

func (r *recorder) stop() {
	r.cancel()
	r.cut()
}
