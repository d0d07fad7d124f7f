// Package playback plays synthesized speech clips one at a time, in arrival
// order.
package playback

import (
	"context"

	"github.com/dkeye/speakcall/internal/app/loop"
	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/metrics"
	"github.com/rs/zerolog/log"
)

type Item struct {
	Audio []byte
	Text  string
}

// Queue must only be used from the loop goroutine. Player completions are
// posted back to it.
type Queue struct {
	loop    *loop.Loop
	player  core.Player
	metrics *metrics.Metrics
	// OnStart, when set, is told about every item that starts playing.
	OnStart func(Item)

	items   []Item
	active  bool
	gen     uint64
	stopCur func()
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
}

func NewQueue(l *loop.Loop, player core.Player, m *metrics.Metrics) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{loop: l, player: player, metrics: m, ctx: ctx, cancel: cancel}
}

func (q *Queue) Len() int      { return len(q.items) }
func (q *Queue) Playing() bool { return q.active }

func (q *Queue) Enqueue(it Item) {
	if q.stopped {
		return
	}
	q.items = append(q.items, it)
	if !q.active {
		q.advance()
	}
}

// advance starts the next item that the player accepts. An item whose start
// fails counts as ended.
func (q *Queue) advance() {
	for len(q.items) > 0 && !q.stopped {
		it := q.items[0]
		q.items = q.items[1:]
		q.gen++
		gen := q.gen

		stop, err := q.player.Start(q.ctx, it.Audio, func(err error) {
			q.loop.Post(func() { q.finished(gen, err) })
		})
		if err != nil {
			log.Warn().Str("module", "app.playback").Err(err).Str("text", it.Text).Msg("playback start failed, skipping")
			q.metrics.RecordPlayback("failed")
			continue
		}
		q.active = true
		q.stopCur = stop
		if q.OnStart != nil {
			q.OnStart(it)
		}
		return
	}
	q.active = false
	q.stopCur = nil
}

func (q *Queue) finished(gen uint64, err error) {
	if q.stopped || gen != q.gen || !q.active {
		return
	}
	if err != nil {
		log.Warn().Str("module", "app.playback").Err(err).Msg("playback error")
		q.metrics.RecordPlayback("error")
	} else {
		q.metrics.RecordPlayback("ended")
	}
	q.active = false
	q.stopCur = nil
	q.advance()
}

// Stop kills the active clip and drops everything queued. The queue accepts
// nothing afterwards.
func (q *Queue) Stop() {
	if q.stopped {
		return
	}
	q.stopped = true
	if q.stopCur != nil {
		q.stopCur()
	}
	q.cancel()
	q.items = nil
	q.active = false
	q.stopCur = nil
}
