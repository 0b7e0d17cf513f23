package voip

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/dense-identity/callsig/internal/signaling"
)

// anyCounter skips the incoming-call counter check in acceptCall and rejectCall.
const anyCounter uint32 = 0

// StartCall begins an outgoing call to peer and moves to Initializing. The
// media layer then creates the offer and hands it to SendOffer.
func (s *Service) StartCall(ctx context.Context, peer string) (signaling.CallID, error) {
	s.mu.Lock()
	if peer == "" {
		return signaling.NoCallID, s.violation("call without a peer")
	}
	if s.state.Phase != PhaseIdle {
		return signaling.NoCallID, s.violation("call already in progress, phase is %s", s.state.Phase)
	}
	id, err := s.newCallID()
	if err != nil {
		s.mu.Unlock()
		return signaling.NoCallID, err
	}

	var b batch
	s.sess.peer = peer
	s.sess.setInitiator(true)
	s.setPhase(&b, PhaseInitializing, id)
	s.log.Info().Str("peer", peer).Uint64("call_id", uint64(id)).Msg("starting outgoing call")
	return id, s.run(ctx, &b)
}

// AcceptCall accepts the ringing call callID with the local answer.
func (s *Service) AcceptCall(ctx context.Context, callID signaling.CallID, answer webrtc.SessionDescription, features signaling.Features) error {
	return s.acceptCall(ctx, callID, anyCounter, answer, features)
}

func (s *Service) acceptCall(ctx context.Context, callID signaling.CallID, counter uint32, answer webrtc.SessionDescription, features signaling.Features) error {
	s.mu.Lock()
	if err := checkAcceptDescription(answer); err != nil {
		return s.violation("%v", err)
	}
	if !s.isRinging(callID, counter) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d is not ringing", ErrNoSuchCall, callID)
	}

	// The timeout must not reject the call while it is being handed over.
	s.live.disarm()

	peer := s.sess.peer
	var b batch
	s.setPhase(&b, PhaseInitializing, callID)
	s.sess.setInitiator(false)
	s.enqueueSend(&b, peer, signaling.Answer{
		CallID:      callID,
		Action:      signaling.ActionAccept,
		Description: &answer,
		Features:    features,
	}, true)
	b.do(func() { s.notes.Cancel(peer, CancelAccepted) })
	s.live.rearm()
	s.log.Info().Str("peer", peer).Uint64("call_id", uint64(callID)).Msg("accepted incoming call")
	return s.run(ctx, &b)
}

// RejectCall declines the ringing call callID.
func (s *Service) RejectCall(ctx context.Context, callID signaling.CallID, reason signaling.RejectReason) error {
	return s.rejectCall(ctx, callID, anyCounter, reason)
}

func (s *Service) rejectCall(ctx context.Context, callID signaling.CallID, counter uint32, reason signaling.RejectReason) error {
	s.mu.Lock()
	if !s.isRinging(callID, counter) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d is not ringing", ErrNoSuchCall, callID)
	}
	var b batch
	s.rejectRinging(&b, reason)
	return s.run(ctx, &b)
}

func (s *Service) isRinging(callID signaling.CallID, counter uint32) bool {
	if s.state.Phase != PhaseRinging || s.state.CallID != callID {
		return false
	}
	return counter == anyCounter || counter == s.state.IncomingCallCounter
}

func (s *Service) rejectRinging(b *batch, reason signaling.RejectReason) {
	peer, callID := s.sess.peer, s.state.CallID
	s.enqueueSend(b, peer, signaling.Answer{
		CallID:       callID,
		Action:       signaling.ActionReject,
		RejectReason: reason,
	}, false)
	s.setPhase(b, PhaseIdle, callID)
	b.do(func() { s.notes.Cancel(peer, CancelRejected) })
	s.events.Publish(CallRejectedEvent{Peer: peer, CallID: callID, Reason: reason, At: s.clock.Now()})
	s.log.Info().Str("peer", peer).Uint64("call_id", uint64(callID)).Str("reason", reason.String()).Msg("rejected incoming call")
}

// Connected is reported by the media layer once the session is up.
func (s *Service) Connected(callID signaling.CallID) error {
	s.mu.Lock()
	if s.state.Phase != PhaseInitializing || s.state.CallID != callID {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d is not being set up", ErrNoSuchCall, callID)
	}
	var b batch
	s.setPhase(&b, PhaseCalling, callID)
	return s.run(context.Background(), &b)
}

// EndCall hangs up the current call. A ringing call is rejected instead.
func (s *Service) EndCall(ctx context.Context) error {
	s.mu.Lock()
	var b batch
	switch s.state.Phase {
	case PhaseIdle:
		s.mu.Unlock()
		return ErrNoSuchCall
	case PhaseRinging:
		s.rejectRinging(&b, signaling.ReasonRejected)
	case PhaseInitializing, PhaseCalling:
		s.hangupLocal(&b)
	}
	return s.run(ctx, &b)
}

// Disconnected is reported by the media layer when the session is torn
// down. It completes a local hangup, or ends the call if the media failed
// on its own.
func (s *Service) Disconnected(ctx context.Context) error {
	s.mu.Lock()
	var b batch
	switch s.state.Phase {
	case PhaseDisconnecting:
		s.setPhase(&b, PhaseIdle, s.state.CallID)
	case PhaseInitializing, PhaseCalling:
		s.hangupLocal(&b)
		s.setPhase(&b, PhaseIdle, s.state.CallID)
	}
	return s.run(ctx, &b)
}

// hangupLocal sends a hangup for a call in Initializing or Calling, moves to
// Disconnecting and reports the outcome.
func (s *Service) hangupLocal(b *batch) {
	prev := s.state.Phase
	peer, callID := s.sess.peer, s.state.CallID
	incoming := !s.isInitiator()
	startedAt := s.sess.startedAt

	s.enqueueSend(b, peer, signaling.Hangup{CallID: callID}, false)
	s.setPhase(b, PhaseDisconnecting, callID)

	now := s.clock.Now()
	switch {
	case prev == PhaseCalling && !startedAt.IsZero():
		s.events.Publish(CallCompletedEvent{
			Peer:     peer,
			CallID:   callID,
			Incoming: incoming,
			Duration: now.Sub(startedAt),
			At:       now,
		})
	case !incoming:
		s.events.Publish(CallAbortedEvent{Peer: peer, CallID: callID, Reason: signaling.ReasonUnknown, At: now})
	}
	s.log.Info().Str("peer", peer).Uint64("call_id", uint64(callID)).Msg("hanging up")
}

// MessageRejected is called when the transport learns that message id was
// not delivered. If id is a required message of the current call, the call
// is aborted. It reports whether the call was aborted.
func (s *Service) MessageRejected(ctx context.Context, id uuid.UUID) bool {
	s.mu.Lock()
	var b batch
	if _, ok := s.sess.required[id]; !ok || s.state.Phase == PhaseIdle {
		_ = s.run(ctx, &b)
		return false
	}

	peer, callID := s.sess.peer, s.state.CallID
	outgoing := s.isInitiator()
	s.log.Warn().
		Str("peer", peer).
		Uint64("call_id", uint64(callID)).
		Str("message_id", id.String()).
		Msg("required signaling message was rejected, aborting call")

	s.endCall(&b)
	b.do(func() { s.notes.Cancel(peer, CancelAborted) })
	now := s.clock.Now()
	if outgoing {
		s.events.Publish(CallAbortedEvent{Peer: peer, CallID: callID, Reason: signaling.ReasonUnknown, At: now})
	} else {
		s.events.Publish(MissedCallEvent{Peer: peer, CallID: callID, Reason: signaling.ReasonUnknown, At: now})
	}
	_ = s.run(ctx, &b)
	return true
}
