package domain

// Phase of a call session. Transitions only move forward; Ended is terminal.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAcquiringMedia
	PhaseCalling
	PhaseAnswering
	PhaseInCall
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAcquiringMedia:
		return "acquiring-media"
	case PhaseCalling:
		return "calling"
	case PhaseAnswering:
		return "answering"
	case PhaseInCall:
		return "in-call"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

type Role int

const (
	RoleCaller Role = iota
	RoleCallee
)

func (r Role) String() string {
	if r == RoleCallee {
		return "callee"
	}
	return "caller"
}

type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// ToggleState is the mic/camera state of one side. The local copy is
// authoritative; the remote copy is a cache fed by toggle notices.
type ToggleState struct {
	MicOn   bool `json:"mic_on"`
	VideoOn bool `json:"video_on"`
}
