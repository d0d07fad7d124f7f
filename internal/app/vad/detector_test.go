package vad

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Unix(1_700_000_000, 0)

// feed drives d with level from start for length at the given tick and
// returns the first non-Continue verdict and when it happened.
func feed(d *Detector, start time.Time, length, tick time.Duration, level float64) (Verdict, time.Time) {
	for at := start; at.Sub(start) <= length; at = at.Add(tick) {
		if v := d.Observe(at, level); v != Continue {
			return v, at
		}
	}
	return Continue, time.Time{}
}

func TestSilenceOnlyIsDiscarded(t *testing.T) {
	cfg := DefaultConfig()
	d := NewDetector(cfg, t0)
	v, at := feed(d, t0, 5*time.Second, cfg.Tick, 0)
	assert.Equal(t, Discard, v)
	assert.Equal(t, t0.Add(cfg.Hangover), at)
}

func TestSpeechThenSilenceCloses(t *testing.T) {
	cfg := DefaultConfig()
	d := NewDetector(cfg, t0)

	v, _ := feed(d, t0, 500*time.Millisecond, cfg.Tick, 40)
	assert.Equal(t, Continue, v)
	assert.True(t, d.Speaking())

	quietFrom := t0.Add(550 * time.Millisecond)
	v, at := feed(d, quietFrom, 5*time.Second, cfg.Tick, 1)
	assert.Equal(t, Close, v)
	assert.Equal(t, quietFrom.Add(cfg.Hangover), at)
}

func TestShortPauseKeepsSegmentOpen(t *testing.T) {
	cfg := DefaultConfig()
	d := NewDetector(cfg, t0)
	feed(d, t0, 300*time.Millisecond, cfg.Tick, 40)

	pause := t0.Add(350 * time.Millisecond)
	v, _ := feed(d, pause, cfg.Hangover-100*time.Millisecond, cfg.Tick, 0)
	assert.Equal(t, Continue, v)

	resume := pause.Add(cfg.Hangover)
	assert.Equal(t, Continue, d.Observe(resume, 40))
	assert.True(t, d.HasSpoken())
}

func TestMidLevelResetsSilence(t *testing.T) {
	cfg := DefaultConfig()
	d := NewDetector(cfg, t0)
	d.Observe(t0, 40)
	d.Observe(t0.Add(100*time.Millisecond), 0)
	// between the thresholds: neither speech nor silence
	assert.Equal(t, Continue, d.Observe(t0.Add(1550*time.Millisecond), 7))
	// would have closed here had the silence run been kept
	assert.Equal(t, Continue, d.Observe(t0.Add(1650*time.Millisecond), 0))
	assert.Equal(t, Close, d.Observe(t0.Add(3150*time.Millisecond), 0))
}

func TestDecisionIndependentOfTickRate(t *testing.T) {
	cfg := DefaultConfig()
	for _, tick := range []time.Duration{10 * time.Millisecond, 50 * time.Millisecond, 100 * time.Millisecond} {
		d := NewDetector(cfg, t0)
		feed(d, t0, 400*time.Millisecond, tick, 40)
		quietFrom := t0.Add(500 * time.Millisecond)
		v, at := feed(d, quietFrom, 5*time.Second, tick, 0)
		assert.Equal(t, Close, v, "tick %s", tick)
		assert.Equal(t, quietFrom.Add(cfg.Hangover), at, "tick %s", tick)
	}
}

func TestMaxSegmentForcesClose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSegment = 2 * time.Second
	d := NewDetector(cfg, t0)
	v, at := feed(d, t0, 10*time.Second, cfg.Tick, 40)
	assert.Equal(t, Close, v)
	assert.Equal(t, t0.Add(2*time.Second), at)
}
