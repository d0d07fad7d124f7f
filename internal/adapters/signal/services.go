package signal

import (
	"context"
	"encoding/base64"

	"github.com/dkeye/speakcall/internal/domain"
	"github.com/dkeye/speakcall/internal/protocol"
	"github.com/rs/zerolog/log"
)

// handleTextForTTS synthesizes text for the recipient. Without a synthesizer,
// or when it fails, the text alone is delivered so it can still be shown.
func (ctl *SignalWSController) handleTextForTTS(ctx context.Context, from domain.Participant, ev protocol.Event) {
	if ev.Text == "" {
		return
	}
	if ctl.synth == nil {
		ctl.deliver(from, ev.To, protocol.PlayAudio("", ev.Text))
		return
	}
	if err := ctl.backend.Acquire(ctx, 1); err != nil {
		return
	}
	go func() {
		defer ctl.backend.Release(1)
		cctx, cancel := context.WithTimeout(ctx, ctl.cfg.BackendTimeout)
		defer cancel()

		var audio string
		clip, err := ctl.synth.Synthesize(cctx, ev.Text)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("synthesize")
		} else {
			audio = base64.StdEncoding.EncodeToString(clip)
		}
		ctl.deliver(from, ev.To, protocol.PlayAudio(audio, ev.Text))
	}()
}

// handleProcessFrame labels one frame and sends the label to both ends of the
// call. Frames over the sender's rate limit, or arriving while every backend
// slot is busy, are dropped.
func (ctl *SignalWSController) handleProcessFrame(ctx context.Context, p *peer, from domain.Participant, ev protocol.Event) {
	if ctl.signs == nil {
		return
	}
	if !ctl.limiter.Allow(from.ID) {
		ctl.metrics.RecordDropped("rate-limit")
		return
	}
	if !ctl.backend.TryAcquire(1) {
		ctl.metrics.RecordDropped("backend-busy")
		return
	}
	go func() {
		defer ctl.backend.Release(1)
		cctx, cancel := context.WithTimeout(ctx, ctl.cfg.BackendTimeout)
		defer cancel()

		label, err := ctl.signs.Recognize(cctx, ev.Image)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("recognize sign")
			return
		}
		if label == "" {
			return
		}
		out := protocol.SignPrediction(label)
		ctl.deliver(from, ev.To, out)
		if err := ctl.sendJSON(p.conn, out); err != nil {
			ctl.metrics.RecordDropped("backpressure")
		}
	}()
}
