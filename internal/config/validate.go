package config

import (
	"fmt"
	"net/url"

	"github.com/dkeye/speakcall/internal/domain"
)

func (c *Config) Validate() error {
	switch c.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("mode must be one of [debug, release, test], got '%s'", c.Mode)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent config: %w", err)
	}
	if err := c.Call.Validate(); err != nil {
		return fmt.Errorf("call config: %w", err)
	}
	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}
	if err := c.Frames.Validate(); err != nil {
		return fmt.Errorf("frames config: %w", err)
	}
	return nil
}

func (l *LogConfig) Validate() error {
	switch l.Level {
	case "trace", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("level must be one of [trace, debug, info, warn, error], got '%s'", l.Level)
}

func validPort(p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", p)
	}
	return nil
}

func validURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of %v, got '%s'", field, schemes, u.Scheme)
}

func (r *RelayConfig) Validate() error {
	if err := validPort(r.Port); err != nil {
		return err
	}
	if r.Secret == "" {
		return fmt.Errorf("secret cannot be empty")
	}
	if r.ReadLimit < 1024 {
		return fmt.Errorf("read_limit must be at least 1024 bytes, got %d", r.ReadLimit)
	}
	if r.SendBuffer < 1 {
		return fmt.Errorf("send_buffer must be at least 1, got %d", r.SendBuffer)
	}
	if r.FrameLimit < 1 || r.FrameWindow <= 0 {
		return fmt.Errorf("frame_limit and frame_window must be positive")
	}
	if err := validURL("tts_url", r.TTSURL, "http", "https"); err != nil {
		return err
	}
	if err := validURL("sign_url", r.SignURL, "http", "https"); err != nil {
		return err
	}
	return r.Backend.Validate()
}

func (b *BackendConfig) Validate() error {
	if b.Timeout <= 0 {
		return fmt.Errorf("backend timeout must be positive, got %s", b.Timeout)
	}
	if b.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", b.MaxConcurrent)
	}
	return nil
}

func (a *AgentConfig) Validate() error {
	if err := validPort(a.Port); err != nil {
		return err
	}
	if a.RelayURL == "" {
		return fmt.Errorf("relay_url cannot be empty")
	}
	if err := validURL("relay_url", a.RelayURL, "ws", "wss"); err != nil {
		return err
	}
	if a.User.ID != "" {
		if err := domain.ValidateID(domain.ParticipantID(a.User.ID)); err != nil {
			return fmt.Errorf("user.id: %w", err)
		}
	}
	if len(a.User.Name) > domain.MaxNameLen {
		return fmt.Errorf("user.name: %w", domain.ErrNameTooLong)
	}
	if err := validURL("stt.url", a.STT.URL, "http", "https"); err != nil {
		return err
	}
	if err := a.STT.Backend.Validate(); err != nil {
		return fmt.Errorf("stt: %w", err)
	}
	if a.ICE.PortMax < a.ICE.PortMin {
		return fmt.Errorf("ice.port_max (%d) must not be below ice.port_min (%d)", a.ICE.PortMax, a.ICE.PortMin)
	}
	return nil
}

func (c *CallConfig) Validate() error {
	if c.RingTimeout <= 0 {
		return fmt.Errorf("ring_timeout must be positive, got %s", c.RingTimeout)
	}
	if c.CandidateBuffer < 1 {
		return fmt.Errorf("candidate_buffer must be at least 1, got %d", c.CandidateBuffer)
	}
	if c.CaptionTTL <= 0 {
		return fmt.Errorf("caption_ttl must be positive, got %s", c.CaptionTTL)
	}
	return nil
}

func (v *VADConfig) Validate() error {
	if v.Tick <= 0 {
		return fmt.Errorf("tick must be positive, got %s", v.Tick)
	}
	if v.SilenceThreshold < 0 || v.SpeakThreshold > 255 {
		return fmt.Errorf("thresholds must lie within 0..255")
	}
	if v.SilenceThreshold >= v.SpeakThreshold {
		return fmt.Errorf("silence_threshold (%g) must be below speak_threshold (%g)", v.SilenceThreshold, v.SpeakThreshold)
	}
	if v.Hangover < v.Tick {
		return fmt.Errorf("hangover must be at least one tick, got %s", v.Hangover)
	}
	if v.MaxSegment <= v.Hangover {
		return fmt.Errorf("max_segment (%s) must exceed hangover (%s)", v.MaxSegment, v.Hangover)
	}
	return nil
}

func (f *FramesConfig) Validate() error {
	if f.Period <= 0 {
		return fmt.Errorf("period must be positive, got %s", f.Period)
	}
	if f.Width < 16 || f.Height < 16 {
		return fmt.Errorf("frame size must be at least 16x16, got %dx%d", f.Width, f.Height)
	}
	if f.Quality < 1 || f.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100, got %d", f.Quality)
	}
	if f.LabelTTL <= 0 {
		return fmt.Errorf("label_ttl must be positive, got %s", f.LabelTTL)
	}
	return nil
}
