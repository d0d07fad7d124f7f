// Package media owns the local capture devices of one call session.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrReleased = errors.New("media released")

// TrackSet is what a successful acquisition hands out. Either device may be
// nil.
type TrackSet struct {
	Audio core.AudioDevice
	Video core.VideoDevice
}

func (s TrackSet) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, 2)
	if s.Audio != nil {
		out = append(out, s.Audio.Track())
	}
	if s.Video != nil {
		out = append(out, s.Video.Track())
	}
	return out
}

// Manager acquires and releases the devices of a single session. Acquire runs
// on a helper goroutine while the rest runs on the loop, hence the mutex.
type Manager struct {
	provider core.DeviceProvider
	local    domain.Participant

	mu       sync.Mutex
	audio    core.AudioDevice
	video    core.VideoDevice
	released bool
}

func NewManager(provider core.DeviceProvider, local domain.Participant) *Manager {
	return &Manager{provider: provider, local: local}
}

// Acquire opens the requested devices. An audio failure is tolerated for a
// participant that cannot speak; any other failure releases what was opened
// and returns a *core.DeviceError. Devices that resolve after ctx is cancelled
// or after Release are stopped before returning.
func (m *Manager) Acquire(ctx context.Context, wantAudio, wantVideo bool) (TrackSet, error) {
	set, err := m.open(ctx, wantAudio, wantVideo)
	if err != nil {
		var derr *core.DeviceError
		if wantAudio && !m.local.CanSpeak && errors.As(err, &derr) && derr.Kind == domain.KindAudio {
			log.Warn().Str("module", "app.media").Err(err).Msg("audio unavailable, retrying video only")
			set, err = m.open(ctx, false, wantVideo)
		}
		if err != nil {
			return TrackSet{}, err
		}
	}

	if err := ctx.Err(); err != nil {
		stopSet(set)
		return TrackSet{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		stopSet(set)
		return TrackSet{}, ErrReleased
	}
	m.audio, m.video = set.Audio, set.Video
	log.Info().Str("module", "app.media").
		Bool("audio", set.Audio != nil).
		Bool("video", set.Video != nil).
		Msg("devices acquired")
	return set, nil
}

func (m *Manager) open(ctx context.Context, wantAudio, wantVideo bool) (TrackSet, error) {
	var set TrackSet
	if wantVideo {
		v, err := m.provider.OpenVideo(ctx)
		if err != nil {
			return TrackSet{}, &core.DeviceError{Kind: domain.KindVideo, Err: err}
		}
		set.Video = v
	}
	if wantAudio {
		a, err := m.provider.OpenAudio(ctx)
		if err != nil {
			stopSet(set)
			return TrackSet{}, &core.DeviceError{Kind: domain.KindAudio, Err: err}
		}
		set.Audio = a
	}
	return set, nil
}

func stopSet(set TrackSet) {
	if set.Audio != nil {
		_ = set.Audio.Stop()
	}
	if set.Video != nil {
		_ = set.Video.Stop()
	}
}

// SetEnabled flips the enabled flag of one device and returns the new state.
func (m *Manager) SetEnabled(kind domain.TrackKind, on bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dev := m.deviceLocked(kind)
	if dev == nil {
		return false, core.ErrNoDevice
	}
	dev.SetEnabled(on)
	return dev.Enabled(), nil
}

func (m *Manager) Enabled(kind domain.TrackKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	dev := m.deviceLocked(kind)
	return dev != nil && dev.Enabled()
}

func (m *Manager) Audio() core.AudioDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audio
}

func (m *Manager) Video() core.VideoDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.video
}

func (m *Manager) deviceLocked(kind domain.TrackKind) core.Device {
	switch kind {
	case domain.KindAudio:
		if m.audio != nil {
			return m.audio
		}
	case domain.KindVideo:
		if m.video != nil {
			return m.video
		}
	}
	return nil
}

// Release stops every device and forgets it. Later calls do nothing.
func (m *Manager) Release() error {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return nil
	}
	m.released = true
	set := TrackSet{Audio: m.audio, Video: m.video}
	m.audio, m.video = nil, nil
	m.mu.Unlock()

	var errs []error
	if set.Audio != nil {
		errs = append(errs, set.Audio.Stop())
	}
	if set.Video != nil {
		errs = append(errs, set.Video.Stop())
	}
	log.Info().Str("module", "app.media").Msg("devices released")
	return errors.Join(errs...)
}

// Held is the number of device handles still retained.
func (m *Manager) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	if m.audio != nil {
		n++
	}
	if m.video != nil {
		n++
	}
	return n
}
