// Package loop is the single execution context of the agent. Signaling
// handlers, timers and async completions all run on one goroutine, so the
// state they touch needs no locking.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"k8s.io/utils/clock"
)

var ErrStopped = errors.New("loop stopped")

type Loop struct {
	clk   clock.Clock
	inbox chan func()
	wake  chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	timers  []*Timer
	stopped bool
}

// Timer is a one-shot or periodic callback scheduled on the loop.
type Timer struct {
	l      *Loop
	at     time.Time
	period time.Duration
	fn     func()
	dead   bool
}

func New(clk clock.Clock, backlog int) *Loop {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if backlog <= 0 {
		backlog = 256
	}
	return &Loop{
		clk:   clk,
		inbox: make(chan func(), backlog),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (l *Loop) Now() time.Time { return l.clk.Now() }

func (l *Loop) Clock() clock.PassiveClock { return l.clk }

// Done is closed once Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Run executes posted funcs and due timers until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.timers = nil
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		l.fireDue()

		var (
			timer  clock.Timer
			timerC <-chan time.Time
		)
		if wait, ok := l.nextWait(); ok {
			if wait <= 0 {
				continue
			}
			timer = l.clk.NewTimer(wait)
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return ctx.Err()
		case fn := <-l.inbox:
			stopTimer(timer)
			l.fireDue()
			l.run(fn)
		case <-timerC:
		case <-l.wake:
			stopTimer(timer)
		}
	}
}

func stopTimer(t clock.Timer) {
	if t != nil {
		t.Stop()
	}
}

// Post queues fn for execution on the loop. It reports false once the loop
// has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.inbox <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
}

// Sync waits until everything posted so far, and every timer already due,
// has run.
func (l *Loop) Sync() {
	_ = l.Do(context.Background(), func() {})
}

// Go runs work on a helper goroutine. A non-nil continuation returned by work
// is posted back to the loop.
func (l *Loop) Go(work func() func()) {
	go func() {
		if then := work(); then != nil {
			l.Post(then)
		}
	}()
}

// AfterFunc runs fn on the loop once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	return l.schedule(d, 0, fn)
}

// Every runs fn on the loop each period. Missed ticks are skipped, not
// replayed.
func (l *Loop) Every(period time.Duration, fn func()) *Timer {
	if period <= 0 {
		panic("loop: non-positive period")
	}
	return l.schedule(period, period, fn)
}

func (l *Loop) schedule(d, period time.Duration, fn func()) *Timer {
	t := &Timer{l: l, at: l.clk.Now().Add(d), period: period, fn: fn}
	l.mu.Lock()
	if l.stopped {
		t.dead = true
	} else {
		l.timers = append(l.timers, t)
	}
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return t
}

// Stop cancels the timer. It reports whether the timer was still pending.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	if t.dead {
		return false
	}
	t.dead = true
	for i, x := range t.l.timers {
		if x == t {
			t.l.timers = append(t.l.timers[:i], t.l.timers[i+1:]...)
			break
		}
	}
	return true
}

func (l *Loop) nextWait() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return 0, false
	}
	next := l.timers[0].at
	for _, t := range l.timers[1:] {
		if t.at.Before(next) {
			next = t.at
		}
	}
	return next.Sub(l.clk.Now()), true
}

// fireDue runs timers whose deadline has passed, earliest first, including
// those scheduled by callbacks it runs.
func (l *Loop) fireDue() {
	for {
		t := l.popDue()
		if t == nil {
			return
		}
		l.run(t.fn)
	}
}

func (l *Loop) popDue() *Timer {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clk.Now()
	idx := -1
	for i, t := range l.timers {
		if t.at.After(now) {
			continue
		}
		if idx < 0 || t.at.Before(l.timers[idx].at) {
			idx = i
		}
	}
	if idx < 0 {
		return nil
	}
	t := l.timers[idx]
	if t.period > 0 {
		for !t.at.After(now) {
			t.at = t.at.Add(t.period)
		}
		return t
	}
	t.dead = true
	l.timers = append(l.timers[:idx], l.timers[idx+1:]...)
	return t
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "app.loop").Interface("panic", r).Msg("recovered")
		}
	}()
	fn()
}
