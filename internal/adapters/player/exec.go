// Package player plays synthesized speech through an external process that
// reads the clip on stdin, ffplay by default.
package player

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/dkeye/speakcall/internal/core"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Command string
	Args    []string
}

func DefaultConfig() Config {
	return Config{
		Command: "ffplay",
		Args:    []string{"-nodisp", "-autoexit", "-loglevel", "error", "-i", "pipe:0"},
	}
}

type Exec struct {
	cfg Config
}

var _ core.Player = (*Exec)(nil)

func New(cfg Config) *Exec {
	if strings.TrimSpace(cfg.Command) == "" {
		cfg = DefaultConfig()
	}
	return &Exec{cfg: cfg}
}

// Start runs one player process for audio. stop kills it; done then reports
// the kill as an error like any other abnormal exit.
func (p *Exec) Start(ctx context.Context, audio []byte, done func(error)) (func(), error) {
	cmd := exec.CommandContext(ctx, p.cfg.Command, p.cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stdin pipe")
	}
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, errors.Wrapf(err, "start %s", p.cfg.Command)
	}
	log.Debug().Str("module", "adapters.player").Int("pid", cmd.Process.Pid).Int("bytes", len(audio)).Msg("playback started")

	go func() {
		_, werr := stdin.Write(audio)
		_ = stdin.Close()
		err := cmd.Wait()
		if err == nil && werr != nil {
			err = errors.Wrap(werr, "write clip")
		}
		if err != nil && stderr.Len() > 0 {
			err = errors.Wrap(err, strings.TrimSpace(stderr.String()))
		}
		done(err)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		})
	}, nil
}
