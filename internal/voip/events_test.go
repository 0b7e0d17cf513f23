package voip

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFiltersByKind(t *testing.T) {
	bus := NewBus(4, zerolog.Nop())
	missed, stop := bus.Subscribe(EventMissedCall)
	defer stop()
	all, stopAll := bus.Subscribe()
	defer stopAll()

	bus.Publish(PeerRingingEvent{Peer: "bob"})
	bus.Publish(MissedCallEvent{Peer: "alice"})

	require.Len(t, missed, 1)
	e := <-missed
	assert.Equal(t, EventMissedCall, e.Kind())
	assert.Len(t, all, 2)
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(1, zerolog.Nop())
	ch, stop := bus.Subscribe()
	defer stop()

	bus.Publish(PeerRingingEvent{Peer: "a"})
	bus.Publish(PeerRingingEvent{Peer: "b"})

	require.Len(t, ch, 1)
	assert.Equal(t, "a", (<-ch).(PeerRingingEvent).Peer)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(1, zerolog.Nop())
	ch, stop := bus.Subscribe()
	stop()
	stop()

	_, ok := <-ch
	assert.False(t, ok)
	assert.NotPanics(t, func() { bus.Publish(MissedCallEvent{}) })
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "missed_call", EventMissedCall.String())
	assert.Equal(t, "unknown", EventKind(0).String())
}
