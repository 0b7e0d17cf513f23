package voip

import (
	"context"
	"time"

	"github.com/dense-identity/callsig/internal/clock"
	"github.com/dense-identity/callsig/internal/signaling"
)

// supervisor owns the ringing timeout. It is only touched with the Service
// state lock held.
type supervisor struct {
	clock  clock.Clock
	window time.Duration

	// armed gates the timeout reject. Every transition sets it again.
	armed bool

	timer *clock.Timer
}

func newSupervisor(c clock.Clock, window time.Duration) *supervisor {
	return &supervisor{clock: c, window: window, armed: true}
}

// schedule replaces any pending timeout with one for callID.
func (l *supervisor) schedule(callID signaling.CallID, fire func(signaling.CallID)) {
	l.cancel()
	l.timer = l.clock.AfterFunc(l.window, func() { fire(callID) })
}

func (l *supervisor) cancel() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *supervisor) rearm() { l.armed = true }
func (l *supervisor) disarm() { l.armed = false }

// ringingTimeout fires when an incoming call rang for the whole window. It
// re-checks the call under the state lock since the timer may race with a
// transition that already cancelled it.
func (s *Service) ringingTimeout(callID signaling.CallID) {
	s.mu.Lock()
	if !s.live.armed || s.state.Phase != PhaseRinging || s.state.CallID != callID {
		s.mu.Unlock()
		s.log.Debug().Uint64("call_id", uint64(callID)).Msg("stale ringing timeout")
		return
	}

	peer := s.sess.peer
	var b batch
	s.enqueueSend(&b, peer, signaling.Answer{
		CallID:       callID,
		Action:       signaling.ActionReject,
		RejectReason: signaling.ReasonTimeout,
	}, false)
	s.setPhase(&b, PhaseIdle, callID)
	b.do(func() { s.notes.Cancel(peer, CancelTimeout) })
	s.events.Publish(MissedCallEvent{Peer: peer, CallID: callID, Reason: signaling.ReasonTimeout, At: s.clock.Now()})
	s.log.Info().Str("peer", peer).Uint64("call_id", uint64(callID)).Msg("incoming call timed out")

	if err := s.run(context.Background(), &b); err != nil {
		s.log.Error().Err(err).Msg("ringing timeout side effects failed")
	}
}
