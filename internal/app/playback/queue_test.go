package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/speakcall/internal/app/loop"
	"github.com/dkeye/speakcall/internal/core/coretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func newQueue(t *testing.T) (*Queue, *coretest.Player, *loop.Loop) {
	t.Helper()
	l := loop.New(clocktesting.NewFakeClock(time.Now()), 16)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	p := &coretest.Player{}
	return NewQueue(l, p, nil), p, l
}

func onLoop(t *testing.T, l *loop.Loop, fn func()) {
	t.Helper()
	require.NoError(t, l.Do(context.Background(), fn))
}

func TestOrderWithFailedStart(t *testing.T) {
	q, p, l := newQueue(t)
	var shown []string
	q.OnStart = func(it Item) { shown = append(shown, it.Text) }

	onLoop(t, l, func() {
		q.Enqueue(Item{Audio: []byte("A"), Text: "first"})
		q.Enqueue(Item{Audio: []byte("xB"), Text: "broken"})
		q.Enqueue(Item{Audio: []byte("C"), Text: "third"})
	})
	assert.Equal(t, []string{"A"}, p.StartedClips())

	require.True(t, p.Finish(nil))
	l.Sync()
	assert.Equal(t, []string{"A", "C"}, p.StartedClips())

	require.True(t, p.Finish(nil))
	l.Sync()
	onLoop(t, l, func() {
		assert.False(t, q.Playing())
		assert.Equal(t, 0, q.Len())
	})
	assert.Equal(t, []string{"first", "third"}, shown)
}

func TestSingleActiveItem(t *testing.T) {
	q, p, l := newQueue(t)
	onLoop(t, l, func() {
		q.Enqueue(Item{Audio: []byte("A")})
		q.Enqueue(Item{Audio: []byte("B")})
	})
	assert.Equal(t, []string{"A"}, p.StartedClips())
	onLoop(t, l, func() { assert.Equal(t, 1, q.Len()) })

	require.True(t, p.Finish(errors.New("device lost")))
	l.Sync()
	assert.Equal(t, []string{"A", "B"}, p.StartedClips())
}

func TestStopDropsQueue(t *testing.T) {
	q, p, l := newQueue(t)
	onLoop(t, l, func() {
		q.Enqueue(Item{Audio: []byte("A")})
		q.Enqueue(Item{Audio: []byte("B")})
		q.Stop()
		q.Stop()
	})
	assert.Equal(t, 1, p.Stopped)

	// the killed clip reporting completion must not start B
	p.Finish(nil)
	l.Sync()
	onLoop(t, l, func() { q.Enqueue(Item{Audio: []byte("C")}) })
	assert.Equal(t, []string{"A"}, p.StartedClips())
}
