package voip

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dense-identity/callsig/internal/signaling"
)

func timeoutRejects(h *harness) []signaling.Answer {
	var out []signaling.Answer
	for _, a := range h.transport.answers() {
		if a.Action == signaling.ActionReject && a.RejectReason == signaling.ReasonTimeout {
			out = append(out, a)
		}
	}
	return out
}

func TestRingingTimeoutRejectsOnce(t *testing.T) {
	h := newHarness(t)

	h.svc.HandleMessage(context.Background(), "alice", offerFor(7))
	require.Equal(t, State{Phase: PhaseRinging, CallID: 7, IncomingCallCounter: 1}, h.svc.State())

	h.clock.Advance(59 * time.Second)
	assert.Empty(t, timeoutRejects(h))
	assert.Equal(t, PhaseRinging, h.svc.State().Phase)

	h.clock.Advance(time.Second)
	rejects := timeoutRejects(h)
	require.Len(t, rejects, 1)
	assert.Equal(t, signaling.CallID(7), rejects[0].CallID)
	assert.Equal(t, PhaseIdle, h.svc.State().Phase)
	assert.False(t, h.svc.Notifications().Active("alice"))

	missed := eventsOf[MissedCallEvent](h.drain())
	require.Len(t, missed, 1)
	assert.Equal(t, signaling.ReasonTimeout, missed[0].Reason)

	h.clock.Advance(5 * time.Minute)
	assert.Len(t, timeoutRejects(h), 1)
}

func TestRingingTimeoutCancelledByAccept(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.svc.HandleMessage(ctx, "alice", offerFor(7))
	h.clock.Advance(30 * time.Second)
	require.NoError(t, h.svc.AcceptCall(ctx, 7, answerDescription(), signaling.Features{}))

	h.clock.Advance(time.Minute)
	assert.Empty(t, timeoutRejects(h))
	assert.Equal(t, PhaseInitializing, h.svc.State().Phase)
}

func TestRingingTimeoutRechecksCall(t *testing.T) {
	h := newHarness(t)

	h.svc.HandleMessage(context.Background(), "alice", offerFor(7))

	// A timer that lost the race with a transition must do nothing.
	h.svc.ringingTimeout(8)
	assert.Equal(t, PhaseRinging, h.svc.State().Phase)

	h.svc.mu.Lock()
	h.svc.live.disarm()
	h.svc.mu.Unlock()
	h.svc.ringingTimeout(7)
	assert.Equal(t, PhaseRinging, h.svc.State().Phase)
	assert.Empty(t, timeoutRejects(h))
}

func TestTransitionRearmsSupervisor(t *testing.T) {
	h := newHarness(t)
	s := h.svc

	s.mu.Lock()
	s.live.disarm()
	var b batch
	s.setPhase(&b, PhaseRinging, 3)
	armed := s.live.armed
	require.NoError(t, s.run(context.Background(), &b))

	assert.True(t, armed)
}

func TestSupervisorSchedule(t *testing.T) {
	h := newHarness(t)
	l := newSupervisor(h.clock, time.Second)

	var fired []signaling.CallID
	l.schedule(1, func(id signaling.CallID) { fired = append(fired, id) })
	l.schedule(2, func(id signaling.CallID) { fired = append(fired, id) })
	assert.Equal(t, 1, h.clock.Pending())

	h.clock.Advance(time.Second)
	assert.Equal(t, []signaling.CallID{2}, fired)

	l.schedule(3, func(id signaling.CallID) { fired = append(fired, id) })
	l.cancel()
	assert.Equal(t, 0, h.clock.Pending())
	h.clock.Advance(time.Second)
	assert.Equal(t, []signaling.CallID{2}, fired)
}
