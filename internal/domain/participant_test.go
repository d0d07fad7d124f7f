package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParticipant(t *testing.T) {
	p, err := NewParticipant("", "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.True(t, p.CanHear)
	assert.True(t, p.CanSpeak)
	assert.False(t, p.SignRelay)

	p, err = NewParticipant("bob-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, ParticipantID("bob-1"), p.ID)
}

func TestNewParticipantValidation(t *testing.T) {
	_, err := NewParticipant("x", "")
	assert.ErrorIs(t, err, ErrNameEmpty)

	_, err = NewParticipant("x", strings.Repeat("n", MaxNameLen+1))
	assert.ErrorIs(t, err, ErrNameTooLong)

	_, err = NewParticipant(strings.Repeat("i", MaxParticipantIDLen+1), "x")
	assert.ErrorIs(t, err, ErrIDTooLong)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "acquiring-media", PhaseAcquiringMedia.String())
	assert.Equal(t, "in-call", PhaseInCall.String())
	assert.Equal(t, "unknown", Phase(42).String())
	assert.Equal(t, "callee", RoleCallee.String())
}
