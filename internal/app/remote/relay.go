package remote

import (
	"context"
	"maps"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// RTPReader is the read side of a remote track.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Relay drains one remote track and fans its packets out to sinks.
type Relay struct {
	Src RTPReader

	mu    sync.RWMutex
	sinks map[string]*OutSink
	muted bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(src RTPReader, cancel context.CancelFunc) *Relay {
	return &Relay{
		Src:    src,
		sinks:  make(map[string]*OutSink),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// loop reads RTP packets from the source track until it fails or ctx ends.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	defer r.closeAll()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("relay ctx done")
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("relay read RTP stopped")
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[string]*OutSink, len(r.sinks))
	maps.Copy(snapshot, r.sinks)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for name, o := range snapshot {
		switch o.GetState() {
		case SinkStateDelete:
			dirty = append(dirty, name)
		case SinkStateMuted:
		case SinkStateOk:
			if err := o.Sink.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("sink", name).
					Msg("sink write RTP error, marking as delete")
				o.MarkDelete()
				dirty = append(dirty, name)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	removed := make([]*OutSink, 0, len(dirty))
	for _, name := range dirty {
		if o, ok := r.sinks[name]; ok {
			removed = append(removed, o)
			delete(r.sinks, name)
		}
	}
	r.mu.Unlock()
	for _, o := range removed {
		_ = o.Sink.Close()
	}
}

func (r *Relay) closeAll() {
	r.mu.Lock()
	sinks := r.sinks
	r.sinks = make(map[string]*OutSink)
	r.mu.Unlock()
	for _, o := range sinks {
		o.MarkDelete()
		_ = o.Sink.Close()
	}
}

func (r *Relay) AddSink(name string, s Sink) {
	o := NewOutSink(s)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.muted {
		o.MarkMuted()
	}
	if old, ok := r.sinks[name]; ok {
		old.MarkDelete()
		_ = old.Sink.Close()
	}
	r.sinks[name] = o
}

func (r *Relay) SetMuted(muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.muted = muted
	for _, o := range r.sinks {
		if muted {
			o.MarkMuted()
		} else {
			o.MarkOk()
		}
	}
}
