package voip

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dense-identity/callsig/internal/signaling"
)

// setPhase moves the machine to (next, callID) and applies the side effects
// of entering next. Requesting the current phase with the current call id is
// a no-op. It reports whether anything changed. Callers hold s.mu.
func (s *Service) setPhase(b *batch, next Phase, callID signaling.CallID) bool {
	prev := s.state
	if prev.Phase == next && prev.CallID == callID {
		return false
	}
	if !transitionAllowed(prev.Phase, next) {
		s.log.Warn().
			Str("from", prev.Phase.String()).
			Str("to", next.String()).
			Uint64("call_id", uint64(callID)).
			Msg("unexpected call phase transition")
	}

	if prev.Phase == PhaseRinging && next != PhaseRinging {
		s.live.cancel()
	}

	s.state.Phase = next
	s.state.CallID = callID
	if callID != prev.CallID {
		s.state.AnswerReceived = false
	}
	s.sess.peerRinging = false
	s.live.rearm()

	switch next {
	case PhaseRinging:
		s.state.IncomingCallCounter++
		b.do(s.controls.Acquire)

	case PhaseInitializing:
		b.do(s.controls.Acquire)
		for _, cached := range s.cache.flush(s.sess.peer, callID) {
			s.events.Publish(CandidatesEvent{Peer: cached.Peer, CallID: cached.CallID, Candidates: cached.Candidates})
		}

	case PhaseCalling:
		s.sess.startedAt = s.clock.Now()

	case PhaseDisconnecting:
		b.do(s.controls.Release)
		clear(s.sess.required)
		s.sess.startedAt = time.Time{}
		s.cache.discard()

	case PhaseIdle:
		b.do(s.controls.Release)
		clear(s.sess.required)
		delete(s.offers, callID)
		s.recent.add(callID)
		s.cache.discard()
		s.sess = newSession()
	}

	s.log.Debug().
		Str("from", prev.Phase.String()).
		Str("to", next.String()).
		Uint64("call_id", uint64(callID)).
		Msg("call phase changed")
	s.events.Publish(StateChangedEvent{Previous: prev, Current: s.state})
	return true
}

// endCall takes the current call to Idle, passing through Disconnecting when
// the table requires it.
func (s *Service) endCall(b *batch) {
	id := s.state.CallID
	switch s.state.Phase {
	case PhaseInitializing, PhaseCalling:
		s.setPhase(b, PhaseDisconnecting, id)
	}
	s.setPhase(b, PhaseIdle, id)
}

// validCallID is the call-id validity rule shared by every inbound handler:
// the current call id, or NoCallID from a legacy peer while we are the caller.
func (s *Service) validCallID(m signaling.CallID) bool {
	return m == s.state.CallID || (s.isInitiator() && m == signaling.NoCallID)
}

func (s *Service) isInitiator() bool {
	return s.sess.initiator != nil && *s.sess.initiator
}

// fromPeer reports whether sender may act on the current call.
func (s *Service) fromPeer(sender string) bool {
	return s.sess.peer == "" || s.sess.peer == sender
}

// enqueueSend assigns a message id and queues delivery. Required messages are
// tracked so their rejection aborts the call.
func (s *Service) enqueueSend(b *batch, peer string, msg signaling.Message, required bool) {
	id := uuid.New()
	if required {
		s.sess.required[id] = struct{}{}
		b.required = append(b.required, id)
	}
	b.add(func(ctx context.Context) error {
		if err := s.transport.Send(ctx, peer, id, msg); err != nil {
			s.log.Error().Err(err).
				Str("peer", peer).
				Str("kind", msg.Kind().String()).
				Uint64("call_id", uint64(msg.GetCallID())).
				Msg("failed to send signaling message")
			return fmt.Errorf("%w: send %s to %s: %w", ErrTransport, msg.Kind(), peer, err)
		}
		return nil
	})
}

// newCallID draws a random non-zero call id distinct from the current one.
func (s *Service) newCallID() (signaling.CallID, error) {
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return signaling.NoCallID, fmt.Errorf("generate call id: %w", err)
		}
		id := signaling.CallID(binary.BigEndian.Uint64(buf[:]))
		if id != signaling.NoCallID && id != s.state.CallID {
			return id, nil
		}
	}
}
