package vad

import (
	"bytes"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pkg/errors"
)

const (
	opusFrame    = 20 * time.Millisecond
	flushTimeout = 2 * time.Second
)

// bufferCloser is closed by the block writer once its last block is flushed.
type bufferCloser struct {
	bytes.Buffer
	once   sync.Once
	closed chan struct{}
}

func (b *bufferCloser) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

// EncodeWebM muxes Opus samples into a single-track WebM container.
func EncodeWebM(samples []media.Sample) ([]byte, error) {
	buf := &bufferCloser{closed: make(chan struct{})}
	var fatal error
	writers, err := webm.NewSimpleBlockWriter(buf, []webm.TrackEntry{
		{
			Name:            "Audio",
			TrackNumber:     1,
			TrackUID:        1,
			CodecID:         "A_OPUS",
			TrackType:       2,
			DefaultDuration: uint64(opusFrame.Nanoseconds()),
			Audio: &webm.Audio{
				SamplingFrequency: 48000.0,
				Channels:          2,
			},
		},
	}, mkvcore.WithOnFatalHandler(func(err error) { fatal = err }))
	if err != nil {
		return nil, errors.Wrap(err, "webm writer")
	}
	w := writers[0]

	var ts time.Duration
	for _, s := range samples {
		if len(s.Data) == 0 {
			continue
		}
		if _, err := w.Write(true, ts.Milliseconds(), s.Data); err != nil {
			return nil, errors.Wrap(err, "webm block")
		}
		d := s.Duration
		if d <= 0 {
			d = opusFrame
		}
		ts += d
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "webm close")
	}
	select {
	case <-buf.closed:
	case <-time.After(flushTimeout):
		return nil, errors.New("webm flush timed out")
	}
	if fatal != nil {
		return nil, errors.Wrap(fatal, "webm mux")
	}
	return buf.Bytes(), nil
}
