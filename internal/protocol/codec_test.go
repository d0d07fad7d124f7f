package protocol

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeWireShape(t *testing.T) {
	raw := `{"type":"incoming-call","from":{"user_id":"alice","name":"Alice"},"offer":{"type":"offer","sdp":"v=0"}}`
	ev, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, TypeIncomingCall, ev.Type)
	require.NotNil(t, ev.From)
	assert.Equal(t, "Alice", ev.From.Name)
	require.NotNil(t, ev.Offer)
	assert.Equal(t, webrtc.SDPTypeOffer, ev.Offer.Type)
	assert.Equal(t, "v=0", ev.Offer.SDP)
}

func TestDecodeToggleKeepsFalse(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"mic-toggled","isMicOn":false}`))
	require.NoError(t, err)
	require.NotNil(t, ev.IsMicOn)
	assert.False(t, *ev.IsMicOn)

	b, err := Encode(ToggleVideo("bob", false))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"toggle-video","to":"bob","isVideoOn":false}`, string(b))
}

func TestDecodeRejectsMissingFields(t *testing.T) {
	cases := []string{
		`{"type":"call-accepted"}`,
		`{"type":"ice-candidate","to":"bob"}`,
		`{"type":"incoming-call","offer":{"type":"offer","sdp":"x"}}`,
		`{"type":"video-toggled"}`,
		`{"to":"bob"}`,
		`not json`,
	}
	for _, raw := range cases {
		_, err := Decode([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformed, raw)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"dance"}`))
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Equal(t, "dance", ev.Type)
}

func TestCandidateEncoding(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	b, err := Encode(Candidate("bob", webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx}))
	require.NoError(t, err)

	ev, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "bob", string(ev.To))
	require.NotNil(t, ev.Candidate)
	require.NotNil(t, ev.Candidate.SDPMid)
	assert.Equal(t, "0", *ev.Candidate.SDPMid)
	assert.Contains(t, ev.Candidate.Candidate, "typ host")
}
