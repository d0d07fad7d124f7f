package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics of the agent and the relay.
// Every method is safe on a nil receiver so components may run without it.
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// VAD metrics
	SegmentsClosed    prometheus.Counter
	SegmentsDiscarded prometheus.Counter

	// Transcription metrics
	TranscriptionRequests prometheus.Counter
	TranscriptionFailures prometheus.Counter
	TranscriptionDuration prometheus.Histogram

	// Frame relay metrics
	FramesSent    prometheus.Counter
	FramesDropped prometheus.Counter

	// Playback metrics
	PlaybackItems *prometheus.CounterVec

	// Relay metrics
	OnlineUsers     prometheus.Gauge
	EventsForwarded *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "speakcall_sessions_started_total",
			Help: "Total number of call sessions started",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speakcall_sessions_ended_total",
			Help: "Total number of call sessions ended, by reason",
		}, []string{"reason"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "speakcall_session_duration_seconds",
			Help:    "Duration of call sessions",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		SegmentsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "speakcall_vad_segments_closed_total",
			Help: "Total number of speech segments closed with speech",
		}),
		SegmentsDiscarded: f.NewCounter(prometheus.CounterOpts{
			Name: "speakcall_vad_segments_discarded_total",
			Help: "Total number of segments discarded without speech",
		}),

		TranscriptionRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "speakcall_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "speakcall_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "speakcall_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "speakcall_frames_sent_total",
			Help: "Total number of video frames relayed for recognition",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "speakcall_frames_dropped_total",
			Help: "Total number of frame ticks skipped while a frame was in flight",
		}),

		PlaybackItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speakcall_playback_items_total",
			Help: "Total number of playback items, by outcome",
		}, []string{"outcome"}),

		OnlineUsers: f.NewGauge(prometheus.GaugeOpts{
			Name: "speakcall_relay_online_users",
			Help: "Current number of participants connected to the relay",
		}),
		EventsForwarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speakcall_relay_events_forwarded_total",
			Help: "Total number of events forwarded by the relay, by type",
		}, []string{"type"}),
		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speakcall_relay_events_dropped_total",
			Help: "Total number of events dropped by the relay, by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

func (m *Metrics) RecordSessionEnded(reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordSegment(hadSpeech bool) {
	if m == nil {
		return
	}
	if hadSpeech {
		m.SegmentsClosed.Inc()
	} else {
		m.SegmentsDiscarded.Inc()
	}
}

func (m *Metrics) RecordTranscription(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
	m.TranscriptionDuration.Observe(d.Seconds())
	if err != nil {
		m.TranscriptionFailures.Inc()
	}
}

func (m *Metrics) RecordFrame(sent bool) {
	if m == nil {
		return
	}
	if sent {
		m.FramesSent.Inc()
	} else {
		m.FramesDropped.Inc()
	}
}

func (m *Metrics) RecordPlayback(outcome string) {
	if m == nil {
		return
	}
	m.PlaybackItems.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m == nil {
		return
	}
	m.OnlineUsers.Set(float64(n))
}

func (m *Metrics) RecordForwarded(eventType string) {
	if m == nil {
		return
	}
	m.EventsForwarded.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(reason).Inc()
}
