package core

import (
	"errors"
	"fmt"

	"github.com/dkeye/speakcall/internal/domain"
)

var (
	// ErrRelayLost means the signaling link dropped mid-call.
	ErrRelayLost = errors.New("signaling relay lost")
	ErrNoDevice  = errors.New("device not acquired")
)

// DeviceError is a failed or denied device acquisition.
type DeviceError struct {
	Kind domain.TrackKind
	Err  error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s device: %v", e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// NegotiationError is a failed offer/answer step or a broken PeerLink.
type NegotiationError struct {
	Op  string
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation %s: %v", e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// BackendError comes from an auxiliary service. It never ends a call.
type BackendError struct {
	Service string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Service, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
