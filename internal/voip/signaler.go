package voip

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/dense-identity/callsig/internal/signaling"
)

// violation releases s.mu and returns err wrapped as a contract violation.
func (s *Service) violation(format string, args ...any) error {
	s.mu.Unlock()
	return fmt.Errorf("%w: %s", ErrContractViolation, fmt.Sprintf(format, args...))
}

func checkAcceptDescription(desc webrtc.SessionDescription) error {
	if desc.Type != webrtc.SDPTypeAnswer && desc.Type != webrtc.SDPTypePranswer {
		return fmt.Errorf("accept needs an answer or pranswer description, got %q", desc.Type)
	}
	if desc.SDP == "" {
		return fmt.Errorf("accept needs a session description body")
	}
	return nil
}

// SendOffer sends the offer for the outgoing call started with StartCall.
func (s *Service) SendOffer(ctx context.Context, desc webrtc.SessionDescription, features signaling.Features) error {
	s.mu.Lock()
	if s.state.Phase != PhaseInitializing || !s.isInitiator() {
		return s.violation("offer needs an outgoing call in Initializing, phase is %s", s.state.Phase)
	}
	offer := signaling.Offer{CallID: s.state.CallID, Description: desc, Features: features}
	if err := offer.Validate(); err != nil {
		return s.violation("%v", err)
	}

	var b batch
	s.enqueueSend(&b, s.sess.peer, offer, true)
	return s.run(ctx, &b)
}

// SendAnswerAccept sends an accept for the incoming call being set up. Use
// AcceptCall to accept a ringing call; this resends the answer.
func (s *Service) SendAnswerAccept(ctx context.Context, desc webrtc.SessionDescription, features signaling.Features) error {
	s.mu.Lock()
	if err := checkAcceptDescription(desc); err != nil {
		return s.violation("%v", err)
	}
	if s.state.Phase != PhaseInitializing || s.sess.initiator == nil || *s.sess.initiator {
		return s.violation("accept needs an incoming call in Initializing, phase is %s", s.state.Phase)
	}

	var b batch
	s.enqueueSend(&b, s.sess.peer, signaling.Answer{
		CallID:      s.state.CallID,
		Action:      signaling.ActionAccept,
		Description: &desc,
		Features:    features,
	}, true)
	return s.run(ctx, &b)
}

// SendAnswerReject rejects callID on peer. It does not touch the local state.
func (s *Service) SendAnswerReject(ctx context.Context, peer string, callID signaling.CallID, reason signaling.RejectReason) error {
	s.mu.Lock()
	var b batch
	s.enqueueSend(&b, peer, signaling.Answer{
		CallID:       callID,
		Action:       signaling.ActionReject,
		RejectReason: reason,
	}, false)
	return s.run(ctx, &b)
}

// SendCandidates forwards local ICE candidates to the peer of the current call.
func (s *Service) SendCandidates(ctx context.Context, candidates []webrtc.ICECandidateInit) error {
	s.mu.Lock()
	if len(candidates) == 0 {
		return s.violation("empty candidate list")
	}
	if s.state.Phase != PhaseInitializing && s.state.Phase != PhaseCalling {
		return s.violation("candidates need a call in Initializing or Calling, phase is %s", s.state.Phase)
	}

	var b batch
	s.enqueueSend(&b, s.sess.peer, signaling.Candidates{CallID: s.state.CallID, Candidates: candidates}, false)
	return s.run(ctx, &b)
}

// SendRinging acknowledges the ringing incoming call to its caller.
func (s *Service) SendRinging(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Phase != PhaseRinging {
		return s.violation("ringing needs a call in Ringing, phase is %s", s.state.Phase)
	}

	var b batch
	s.enqueueSend(&b, s.sess.peer, signaling.Ringing{CallID: s.state.CallID}, false)
	return s.run(ctx, &b)
}

// SendHangup tells peer that callID is over. It does not touch the local state.
func (s *Service) SendHangup(ctx context.Context, peer string, callID signaling.CallID) error {
	s.mu.Lock()
	var b batch
	s.enqueueSend(&b, peer, signaling.Hangup{CallID: callID}, false)
	return s.run(ctx, &b)
}
