package signaling

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	b, err := Marshal(msg)
	require.NoError(t, err)
	got, err := Unmarshal(b)
	require.NoError(t, err)
	return got
}

func TestCodecOffer(t *testing.T) {
	in := Offer{
		CallID:      7,
		Description: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"},
		Features:    Features{Video: true},
	}
	got := roundTrip(t, in)
	assert.Equal(t, in, got)
	assert.NoError(t, got.(Offer).Validate())
}

func TestCodecAnswer(t *testing.T) {
	accept := Answer{
		CallID:      9,
		Action:      ActionAccept,
		Description: &webrtc.SessionDescription{Type: webrtc.SDPTypePranswer, SDP: "v=0\r\n"},
	}
	assert.Equal(t, accept, roundTrip(t, accept))

	reject := Answer{CallID: 9, Action: ActionReject, RejectReason: ReasonOffHours}
	got := roundTrip(t, reject).(Answer)
	assert.Nil(t, got.Description)
	assert.Equal(t, ReasonOffHours, got.RejectReason)
	assert.Equal(t, ActionReject, got.Action)
}

func TestCodecCandidates(t *testing.T) {
	mid := "0"
	idx := uint16(1)
	in := Candidates{
		CallID: 3,
		Candidates: []webrtc.ICECandidateInit{
			{Candidate: "candidate:1 1 UDP 2122252543 10.0.0.2 50000 typ host", SDPMid: &mid, SDPMLineIndex: &idx},
			{Candidate: "candidate:2 1 UDP 1686052607 203.0.113.4 50001 typ srflx"},
		},
		Removed: true,
	}
	got := roundTrip(t, in).(Candidates)
	require.Len(t, got.Candidates, 2)
	assert.Equal(t, in.Candidates[0].Candidate, got.Candidates[0].Candidate)
	require.NotNil(t, got.Candidates[0].SDPMid)
	assert.Equal(t, "0", *got.Candidates[0].SDPMid)
	require.NotNil(t, got.Candidates[0].SDPMLineIndex)
	assert.Equal(t, uint16(1), *got.Candidates[0].SDPMLineIndex)
	assert.Nil(t, got.Candidates[1].SDPMid)
	assert.Nil(t, got.Candidates[1].SDPMLineIndex)
	assert.True(t, got.Removed)
}

func TestCodecCallIDOnlyKinds(t *testing.T) {
	assert.Equal(t, Ringing{CallID: 11}, roundTrip(t, Ringing{CallID: 11}))
	assert.Equal(t, Hangup{CallID: 11}, roundTrip(t, Hangup{CallID: 11}))
	assert.Equal(t, Hangup{}, roundTrip(t, Hangup{CallID: NoCallID}))
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	b, err := Marshal(Ringing{CallID: 5})
	require.NoError(t, err)
	b = protowire.AppendTag(b, 42, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, Ringing{CallID: 5}, got)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte{0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrMalformed)

	b := protowire.AppendTag(nil, frameKind, protowire.VarintType)
	b = protowire.AppendVarint(b, 99)
	_, err = Unmarshal(b)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestMarshalNil(t *testing.T) {
	_, err := Marshal(nil)
	assert.ErrorIs(t, err, ErrMalformed)
}
