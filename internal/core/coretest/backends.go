package coretest

import (
	"context"
	"errors"
	"sync"
)

var ErrPlayerBroken = errors.New("player failed to start")

// Transcriber answers every request with Text, or Err when set.
type Transcriber struct {
	Text string
	Err  error

	mu    sync.Mutex
	calls [][]byte
}

func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, _ string) (string, error) {
	t.mu.Lock()
	t.calls = append(t.calls, audio)
	t.mu.Unlock()
	if t.Err != nil {
		return "", t.Err
	}
	return t.Text, ctx.Err()
}

func (t *Transcriber) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Player records every start. A clip whose first byte is 'x' fails to start.
// The test ends playback with Finish.
type Player struct {
	mu      sync.Mutex
	Started []string
	Stopped int
	pending []func(error)
}

func (p *Player) Start(_ context.Context, audio []byte, done func(error)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(audio) > 0 && audio[0] == 'x' {
		return nil, ErrPlayerBroken
	}
	p.Started = append(p.Started, string(audio))
	p.pending = append(p.pending, done)
	return func() {
		p.mu.Lock()
		p.Stopped++
		p.mu.Unlock()
	}, nil
}

// Finish reports the oldest active clip as ended with err.
func (p *Player) Finish(err error) bool {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return false
	}
	done := p.pending[0]
	p.pending = p.pending[1:]
	p.mu.Unlock()
	done(err)
	return true
}

func (p *Player) StartedClips() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Started...)
}
