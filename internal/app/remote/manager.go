// Package remote drains the peer's media tracks. Packets go to a traffic
// counter and, when configured, to on-disk recordings; remote toggles mute
// them.
package remote

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dkeye/speakcall/internal/domain"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Stats struct {
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
}

// Manager keeps at most one relay per track kind for a single session.
type Manager struct {
	sessionID string
	recordDir string

	mu       sync.RWMutex
	relays   map[domain.TrackKind]*Relay
	counters map[domain.TrackKind]*Counter
	muted    map[domain.TrackKind]bool
}

// NewManager creates a manager for one session. An empty recordDir disables
// recording.
func NewManager(sessionID, recordDir string) *Manager {
	return &Manager{
		sessionID: sessionID,
		recordDir: recordDir,
		relays:    make(map[domain.TrackKind]*Relay),
		counters:  make(map[domain.TrackKind]*Counter),
		muted:     make(map[domain.TrackKind]bool),
	}
}

// StartRelay starts draining src. A previous relay of the same kind is
// stopped first.
func (m *Manager) StartRelay(ctx context.Context, kind domain.TrackKind, mimeType string, src RTPReader) {
	logger := log.With().
		Str("module", "app.remote").
		Str("sid", m.sessionID).
		Str("kind", string(kind)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(src, cancel)

	counter := &Counter{}
	relay.AddSink("counter", counter)
	if m.recordDir != "" {
		if rec, err := m.recorder(kind, mimeType); err != nil {
			logger.Warn().Err(err).Msg("recording disabled")
		} else {
			relay.AddSink("record", rec)
		}
	}

	m.mu.Lock()
	if old, ok := m.relays[kind]; ok {
		logger.Info().Msg("replacing existing relay")
		old.cancel()
	}
	m.relays[kind] = relay
	m.counters[kind] = counter
	relay.SetMuted(m.muted[kind])
	m.mu.Unlock()

	logger.Info().Str("mime", mimeType).Msg("starting remote relay")
	go relay.loop(relayCtx, &logger)
}

func (m *Manager) recorder(kind domain.TrackKind, mimeType string) (Sink, error) {
	switch kind {
	case domain.KindAudio:
		path := filepath.Join(m.recordDir, fmt.Sprintf("%s-audio.ogg", m.sessionID))
		w, err := oggwriter.New(path, 48000, 2)
		return w, errors.Wrapf(err, "ogg recorder %s", path)
	case domain.KindVideo:
		path := filepath.Join(m.recordDir, fmt.Sprintf("%s-video.ivf", m.sessionID))
		w, err := ivfwriter.New(path)
		return w, errors.Wrapf(err, "ivf recorder %s", path)
	}
	return nil, errors.Errorf("no recorder for %s (%s)", kind, mimeType)
}

// SetMuted drops packets of kind while muted. It also applies to relays
// started later.
func (m *Manager) SetMuted(kind domain.TrackKind, muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted[kind] = muted
	if r, ok := m.relays[kind]; ok {
		r.SetMuted(muted)
	}
}

func (m *Manager) HasRelay(kind domain.TrackKind) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[kind]
	return ok
}

func (m *Manager) Stats() map[domain.TrackKind]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.TrackKind]Stats, len(m.counters))
	for kind, c := range m.counters {
		out[kind] = Stats{Packets: c.Packets.Load(), Bytes: c.Bytes.Load()}
	}
	return out
}

// StopAll cancels every relay. Each one closes its sinks once its pending
// read returns, which happens when the PeerLink is closed.
func (m *Manager) StopAll() {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[domain.TrackKind]*Relay)
	m.mu.Unlock()
	for _, r := range relays {
		r.cancel()
	}
}
