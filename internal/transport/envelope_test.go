package transport

import (
	"testing"

	"github.com/dense-identity/callsig/internal/relay"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func relayMessage(sender, recipient string, payload []byte) relay.Message {
	return relay.Message{ID: uuid.New(), Sender: sender, Recipient: recipient, Payload: payload}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	id := uuid.New()
	data, err := encodeEnvelope(&Envelope{Kind: KindRejected, MessageID: id[:], Sender: "bob", Reason: "bad"})
	require.NoError(t, err)

	env, err := decodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, KindRejected, env.Kind)
	assert.Equal(t, "bob", env.Sender)
	assert.Equal(t, "bad", env.Reason)
	got, err := env.id()
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestEnvelopeIsDeterministic(t *testing.T) {
	id := uuid.New()
	a, err := encodeEnvelope(&Envelope{Kind: KindSignal, MessageID: id[:], Sender: "a", Sealed: []byte{1}})
	require.NoError(t, err)
	b, err := encodeEnvelope(&Envelope{Kind: KindSignal, MessageID: id[:], Sender: "a", Sealed: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	_, err := decodeEnvelope([]byte{0xff})
	assert.Error(t, err)

	data, err := encMode.Marshal(&Envelope{Version: 9, Kind: KindSignal})
	require.NoError(t, err)
	_, err = decodeEnvelope(data)
	assert.Error(t, err)

	data, err = encMode.Marshal(&Envelope{Version: envelopeVersion, Kind: 7})
	require.NoError(t, err)
	_, err = decodeEnvelope(data)
	assert.Error(t, err)
}
