// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxParticipantIDLen = 64
	MaxNameLen          = 36
)

var (
	ErrNameTooLong = errors.New("name too long")
	ErrNameEmpty   = errors.New("name empty")
	ErrIDEmpty     = errors.New("participant id empty")
	ErrIDTooLong   = errors.New("participant id too long")
)

type ParticipantID string

// Participant is one side of a call. Capability flags decide which
// side-channels are active for it.
type Participant struct {
	ID   ParticipantID `json:"user_id"`
	Name string        `json:"name"`
	// CanHear enables playback of synthesized speech sent by the peer.
	CanHear bool `json:"can_hear"`
	// CanSpeak marks an audio-capable participant. When false the microphone is
	// optional and the voice-activity segmenter never runs.
	CanSpeak bool `json:"can_speak"`
	// SignRelay enables the outbound frame relay for sign recognition.
	SignRelay bool `json:"sign_relay"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
// An empty id gets a random one.
func NewParticipant(id, name string) (*Participant, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if err := ValidateID(ParticipantID(id)); err != nil {
		return nil, err
	}
	p := &Participant{ID: ParticipantID(id), CanHear: true, CanSpeak: true}
	if err := p.SetName(name); err != nil {
		return nil, err
	}
	return p, nil
}

func ValidateID(id ParticipantID) error {
	if len(id) == 0 {
		return ErrIDEmpty
	}
	if len(id) > MaxParticipantIDLen {
		return ErrIDTooLong
	}
	return nil
}

func (p *Participant) SetName(name string) error {
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	p.Name = name
	return nil
}
