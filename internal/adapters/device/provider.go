// Package device provides capture devices backed by media files, for headless
// agents. Audio comes from an Ogg/Opus file and video from an IVF/VP8 file;
// both are paced in real time and looped.
package device

import (
	"context"
	"errors"
	"os"

	"github.com/dkeye/speakcall/internal/core"
	pkgerrors "github.com/pkg/errors"
)

var (
	ErrNoSource   = errors.New("no media file configured")
	ErrNoKeyframe = errors.New("no keyframe decoded yet")
	ErrDisabled   = errors.New("device disabled")
)

type Config struct {
	AudioFile string
	VideoFile string
	// Once plays each file a single time instead of looping.
	Once bool
}

type Provider struct {
	cfg Config
}

var _ core.DeviceProvider = (*Provider)(nil)

func NewProvider(cfg Config) *Provider {
	return &Provider{cfg: cfg}
}

func (p *Provider) OpenAudio(ctx context.Context) (core.AudioDevice, error) {
	if err := checkSource(ctx, p.cfg.AudioFile); err != nil {
		return nil, err
	}
	return openAudio(p.cfg.AudioFile, !p.cfg.Once)
}

func (p *Provider) OpenVideo(ctx context.Context) (core.VideoDevice, error) {
	if err := checkSource(ctx, p.cfg.VideoFile); err != nil {
		return nil, err
	}
	return openVideo(p.cfg.VideoFile, !p.cfg.Once)
}

func checkSource(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if path == "" {
		return ErrNoSource
	}
	if _, err := os.Stat(path); err != nil {
		return pkgerrors.Wrap(err, "media file")
	}
	return nil
}
