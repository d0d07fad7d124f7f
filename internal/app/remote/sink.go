package remote

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type SinkState int32

const (
	SinkStateOk SinkState = iota
	SinkStateMuted
	SinkStateDelete
)

// Sink consumes RTP packets of one remote track.
type Sink interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// OutSink wraps a Sink with a lock-free mute/delete state.
type OutSink struct {
	Sink  Sink
	state atomic.Int32 // Zero by default (SinkStateOk)
}

func NewOutSink(s Sink) *OutSink {
	return &OutSink{Sink: s}
}

func (o *OutSink) GetState() SinkState {
	return SinkState(o.state.Load())
}

func (o *OutSink) MarkOk() {
	o.state.CompareAndSwap(int32(SinkStateMuted), int32(SinkStateOk))
}

func (o *OutSink) MarkMuted() {
	o.state.CompareAndSwap(int32(SinkStateOk), int32(SinkStateMuted))
}

func (o *OutSink) MarkDelete() {
	o.state.Store(int32(SinkStateDelete))
}

// Counter is a Sink that only counts traffic.
type Counter struct {
	Packets atomic.Uint64
	Bytes   atomic.Uint64
}

func (c *Counter) WriteRTP(p *rtp.Packet) error {
	c.Packets.Add(1)
	c.Bytes.Add(uint64(len(p.Payload)))
	return nil
}

func (c *Counter) Close() error { return nil }
