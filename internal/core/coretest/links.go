package coretest

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/protocol"
	"github.com/pion/webrtc/v4"
)

var ErrNegotiation = errors.New("bad sdp")

// Link is a scripted PeerLink.
type Link struct {
	mu         sync.Mutex
	ID         core.SessionID
	Tracks     []webrtc.TrackLocal
	Candidates []webrtc.ICECandidateInit
	Closes     int
	remote     *webrtc.SessionDescription
	failAnswer bool

	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
}

func (l *Link) AddLocalTrack(t webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Tracks = append(l.Tracks, t)
	return nil, nil
}

func (l *Link) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-from-" + string(l.ID)}, nil
}

func (l *Link) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if offer.SDP == "" {
		return webrtc.SessionDescription{}, ErrNegotiation
	}
	l.remote = &offer
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-from-" + string(l.ID)}, nil
}

func (l *Link) ApplyAnswer(answer webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if answer.SDP == "" || l.failAnswer {
		return ErrNegotiation
	}
	l.remote = &answer
	return nil
}

func (l *Link) AddICECandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remote == nil {
		return errors.New("no remote description")
	}
	l.Candidates = append(l.Candidates, c)
	return nil
}

func (l *Link) HasRemoteDescription() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remote != nil
}

func (l *Link) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onCandidate = fn
}

func (l *Link) OnTrack(func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (l *Link) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onState = fn
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Closes++
	return nil
}

// Gather reports a local candidate as if ICE found it.
func (l *Link) Gather(c webrtc.ICECandidateInit) {
	l.mu.Lock()
	fn := l.onCandidate
	l.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// SetState reports a connection state change.
func (l *Link) SetState(s webrtc.PeerConnectionState) {
	l.mu.Lock()
	fn := l.onState
	l.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (l *Link) Snapshot() (closes int, tracks int, candidates []webrtc.ICECandidateInit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Closes, len(l.Tracks), append([]webrtc.ICECandidateInit(nil), l.Candidates...)
}

// LinkFactory hands out Links and remembers them.
type LinkFactory struct {
	mu         sync.Mutex
	Links      []*Link
	Err        error
	FailAnswer bool
}

func (f *LinkFactory) NewPeerLink(id core.SessionID) (core.PeerLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	l := &Link{ID: id, failAnswer: f.FailAnswer}
	f.Links = append(f.Links, l)
	return l, nil
}

func (f *LinkFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Links)
}

func (f *LinkFactory) Last() *Link {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Links) == 0 {
		return nil
	}
	return f.Links[len(f.Links)-1]
}

// Signal is an in-memory SignalChannel. Deliver must be called from the
// goroutine the subscribers expect, normally the loop.
type Signal struct {
	mu      sync.Mutex
	Sent    []protocol.Event
	SendErr error
	subs    map[int]subscription
	nextID  int
}

type subscription struct {
	fn    func(protocol.Event)
	types map[string]bool
}

func (s *Signal) Send(ev protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	s.Sent = append(s.Sent, ev)
	return nil
}

func (s *Signal) Subscribe(fn func(protocol.Event), types ...string) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]subscription)
	}
	id := s.nextID
	s.nextID++
	sub := subscription{fn: fn}
	if len(types) > 0 {
		sub.types = make(map[string]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	s.subs[id] = sub
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Signal) Deliver(ev protocol.Event) {
	s.mu.Lock()
	var fns []func(protocol.Event)
	for i := 0; i < s.nextID; i++ {
		sub, ok := s.subs[i]
		if ok && (sub.types == nil || sub.types[ev.Type]) {
			fns = append(fns, sub.fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *Signal) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// SentOf returns the sent events of type t.
func (s *Signal) SentOf(t string) []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Event
	for _, ev := range s.Sent {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
