package history

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dense-identity/callsig/internal/signaling"
	"github.com/dense-identity/callsig/internal/voip"
)

func TestRecorderPersistsOutcomes(t *testing.T) {
	s := openMemory(t)
	bus := voip.NewBus(16, zerolog.Nop())
	events, stop := Subscribe(bus)

	rec := NewRecorder(s, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- rec.Run(context.Background(), events) }()

	at := time.UnixMilli(1767600000000)
	bus.Publish(voip.PeerRingingEvent{Peer: "alice", CallID: 1})
	bus.Publish(voip.MissedCallEvent{Peer: "alice", CallID: 7, Reason: signaling.ReasonTimeout, At: at})
	bus.Publish(voip.CallCompletedEvent{Peer: "bob", CallID: 8, Duration: time.Minute, At: at})
	bus.Publish(voip.CallRejectedEvent{Peer: "carol", CallID: 9, Reason: signaling.ReasonRejected, At: at})
	bus.Publish(voip.CallAbortedEvent{Peer: "dave", CallID: 10, Reason: signaling.ReasonBusy, At: at})
	stop()
	require.NoError(t, <-done)

	all, err := s.Recent(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, OutcomeAborted, all[0].Outcome)
	assert.Equal(t, OutcomeRejected, all[1].Outcome)
	assert.Equal(t, OutcomeCompleted, all[2].Outcome)
	assert.Equal(t, time.Minute, all[2].Duration)
	assert.Equal(t, OutcomeMissed, all[3].Outcome)
	assert.Equal(t, signaling.ReasonTimeout, all[3].Reason)

	found, err := s.HasRecentCallRecord(context.Background(), "alice", 7, 4)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRecorderStopsOnCancel(t *testing.T) {
	s := openMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewRecorder(s, zerolog.Nop()).Run(ctx, make(chan voip.Event))
	assert.ErrorIs(t, err, context.Canceled)
}
