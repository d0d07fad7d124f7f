// Package protocol describes the signaling events exchanged with the relay.
// Every event is a flat JSON object tagged by "type".
package protocol

import (
	"github.com/dkeye/speakcall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Client → relay.
const (
	TypeUserOnline   = "user_online"
	TypeCallUser     = "call-user"
	TypeAnswerCall   = "answer-call"
	TypeRejectCall   = "reject-call"
	TypeToggleMic    = "toggle-mic"
	TypeToggleVideo  = "toggle-video"
	TypeSendTextTTS  = "send-text-for-tts"
	TypeProcessFrame = "process-frame"
	TypePing         = "ping"
)

// Relay → client.
const (
	TypeOnlineUsers    = "update_online_users"
	TypeIncomingCall   = "incoming-call"
	TypeCallAccepted   = "call-accepted"
	TypeCallRejected   = "call-rejected"
	TypeMicToggled     = "mic-toggled"
	TypeVideoToggled   = "video-toggled"
	TypePlayAudio      = "play-audio-message"
	TypeSignPrediction = "sign-prediction"
	TypePong           = "pong"
	TypeError          = "error"
)

// Both directions.
const (
	TypeICECandidate = "ice-candidate"
	TypeCallEnded    = "call-ended"
	TypeSTTResult    = "stt-result"
)

// Local only, never sent on the wire. The client emits these when the relay
// link comes up or drops.
const (
	TypeConnected    = "connected"
	TypeDisconnected = "disconnected"
)

// Event is the union of every signaling message. Only the fields relevant to
// Type are set.
type Event struct {
	Type string `json:"type"`

	To   domain.ParticipantID `json:"to,omitempty"`
	From *domain.Participant  `json:"from,omitempty"`

	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`

	IsMicOn   *bool `json:"isMicOn,omitempty"`
	IsVideoOn *bool `json:"isVideoOn,omitempty"`

	Text  string `json:"text,omitempty"`
	Audio string `json:"audio,omitempty"`
	Image string `json:"image,omitempty"`
	Label string `json:"label,omitempty"`

	User  *domain.Participant  `json:"user,omitempty"`
	Users []domain.Participant `json:"users,omitempty"`

	Error string `json:"error,omitempty"`
}

func boolPtr(v bool) *bool { return &v }

func UserOnline(p domain.Participant) Event {
	return Event{Type: TypeUserOnline, User: &p}
}

func CallUser(to domain.ParticipantID, offer webrtc.SessionDescription) Event {
	return Event{Type: TypeCallUser, To: to, Offer: &offer}
}

func AnswerCall(to domain.ParticipantID, answer webrtc.SessionDescription) Event {
	return Event{Type: TypeAnswerCall, To: to, Answer: &answer}
}

func Candidate(to domain.ParticipantID, c webrtc.ICECandidateInit) Event {
	return Event{Type: TypeICECandidate, To: to, Candidate: &c}
}

func CallEnded(to domain.ParticipantID) Event {
	return Event{Type: TypeCallEnded, To: to}
}

func RejectCall(to domain.ParticipantID) Event {
	return Event{Type: TypeRejectCall, To: to}
}

func ToggleMic(to domain.ParticipantID, on bool) Event {
	return Event{Type: TypeToggleMic, To: to, IsMicOn: boolPtr(on)}
}

func ToggleVideo(to domain.ParticipantID, on bool) Event {
	return Event{Type: TypeToggleVideo, To: to, IsVideoOn: boolPtr(on)}
}

func STTResult(to domain.ParticipantID, text string) Event {
	return Event{Type: TypeSTTResult, To: to, Text: text}
}

func TextForTTS(to domain.ParticipantID, text string) Event {
	return Event{Type: TypeSendTextTTS, To: to, Text: text}
}

func ProcessFrame(to domain.ParticipantID, image string) Event {
	return Event{Type: TypeProcessFrame, To: to, Image: image}
}

func ErrorEvent(msg string) Event {
	return Event{Type: TypeError, Error: msg}
}

func OnlineUsers(users []domain.Participant) Event {
	return Event{Type: TypeOnlineUsers, Users: users}
}

func PlayAudio(audio, text string) Event {
	return Event{Type: TypePlayAudio, Audio: audio, Text: text}
}

func SignPrediction(label string) Event {
	return Event{Type: TypeSignPrediction, Label: label}
}

func Pong() Event {
	return Event{Type: TypePong}
}
