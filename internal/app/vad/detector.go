// Package vad splits the local microphone signal into speech segments and
// hands closed segments to a transcriber.
package vad

import "time"

type Config struct {
	Tick time.Duration
	// SpeakThreshold and SilenceThreshold are levels on the 0..255 meter scale.
	SpeakThreshold   float64
	SilenceThreshold float64
	// Hangover is how long silence must last before a segment closes.
	Hangover time.Duration
	// MaxSegment force-closes a segment that never goes quiet. Zero disables it.
	MaxSegment time.Duration
}

func DefaultConfig() Config {
	return Config{
		Tick:             50 * time.Millisecond,
		SpeakThreshold:   10,
		SilenceThreshold: 5,
		Hangover:         1500 * time.Millisecond,
		MaxSegment:       15 * time.Second,
	}
}

type Verdict int

const (
	// Continue keeps recording the current segment.
	Continue Verdict = iota
	// Close ends a segment that contains speech.
	Close
	// Discard ends a segment that never contained speech.
	Discard
)

// Detector decides segment boundaries from level samples. Decisions depend on
// the timestamps it is given, not on how often it is called.
type Detector struct {
	cfg Config

	speaking  bool
	silent    bool
	hasSpoken bool

	segmentStart time.Time
	silenceSince time.Time
}

func NewDetector(cfg Config, now time.Time) *Detector {
	d := &Detector{cfg: cfg}
	d.Reset(now)
	return d
}

// Reset starts a new segment at now.
func (d *Detector) Reset(now time.Time) {
	d.speaking = false
	d.silent = false
	d.hasSpoken = false
	d.segmentStart = now
	d.silenceSince = time.Time{}
}

func (d *Detector) Speaking() bool  { return d.speaking }
func (d *Detector) HasSpoken() bool { return d.hasSpoken }

func (d *Detector) Observe(now time.Time, level float64) Verdict {
	d.speaking = level >= d.cfg.SpeakThreshold
	if d.speaking {
		d.hasSpoken = true
	}

	if level < d.cfg.SilenceThreshold {
		if !d.silent {
			d.silent = true
			d.silenceSince = now
		}
	} else {
		d.silent = false
		d.silenceSince = time.Time{}
	}

	if d.silent && now.Sub(d.silenceSince) >= d.cfg.Hangover {
		return d.verdict()
	}
	if d.cfg.MaxSegment > 0 && now.Sub(d.segmentStart) >= d.cfg.MaxSegment {
		return d.verdict()
	}
	return Continue
}

func (d *Detector) verdict() Verdict {
	if d.hasSpoken {
		return Close
	}
	return Discard
}
