package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformed   = errors.New("malformed event")
	ErrUnknownType = errors.New("unknown event type")
)

func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Decode parses one event and checks that the fields its type requires are
// present. Unknown types are returned together with ErrUnknownType so callers
// may log and skip them.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return ev, ev.validate()
}

func (ev Event) validate() error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s without %s", ErrMalformed, ev.Type, field)
	}
	switch ev.Type {
	case TypeCallUser:
		if ev.Offer == nil {
			return missing("offer")
		}
	case TypeIncomingCall:
		if ev.Offer == nil {
			return missing("offer")
		}
		if ev.From == nil || ev.From.ID == "" {
			return missing("from")
		}
	case TypeAnswerCall:
		if ev.Answer == nil {
			return missing("answer")
		}
	case TypeCallAccepted:
		if ev.Answer == nil {
			return missing("answer")
		}
	case TypeICECandidate:
		if ev.Candidate == nil {
			return missing("candidate")
		}
	case TypeToggleMic, TypeMicToggled:
		if ev.IsMicOn == nil {
			return missing("isMicOn")
		}
	case TypeToggleVideo, TypeVideoToggled:
		if ev.IsVideoOn == nil {
			return missing("isVideoOn")
		}
	case TypeUserOnline:
		if ev.User == nil || ev.User.ID == "" {
			return missing("user")
		}
	case TypeProcessFrame:
		if ev.Image == "" {
			return missing("image")
		}
	case TypeRejectCall, TypeCallEnded, TypeCallRejected, TypeSTTResult, TypeSendTextTTS,
		TypePlayAudio, TypeSignPrediction, TypeOnlineUsers, TypePing, TypePong, TypeError:
	default:
		return ErrUnknownType
	}
	return nil
}

// Addressed reports whether a client event must carry a recipient.
func (ev Event) Addressed() bool {
	switch ev.Type {
	case TypeCallUser, TypeAnswerCall, TypeICECandidate, TypeCallEnded, TypeRejectCall,
		TypeToggleMic, TypeToggleVideo, TypeSTTResult, TypeSendTextTTS, TypeProcessFrame:
		return true
	}
	return false
}
