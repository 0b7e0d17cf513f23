package voip

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/dense-identity/callsig/internal/signaling"
)

// HandleMessage applies one inbound signaling message from sender. Protocol
// problems are logged and the message dropped; nothing is returned to the
// caller and no panic escapes.
func (s *Service) HandleMessage(ctx context.Context, sender string, msg signaling.Message) {
	s.mu.Lock()
	var b batch
	s.dispatch(ctx, &b, sender, msg)
	if err := s.run(ctx, &b); err != nil {
		s.log.Error().Err(err).Str("peer", sender).Msg("signaling side effects failed")
	}
}

// dispatch routes msg to its handler. A panic is logged and recovered here,
// with s.mu still held, so the caller can release it; side effects queued
// before the panic still run.
func (s *Service) dispatch(ctx context.Context, b *batch, sender string, msg signaling.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("peer", sender).Msg("signaling handler panicked")
		}
	}()

	switch m := msg.(type) {
	case signaling.Offer:
		s.handleOffer(b, sender, m)
	case signaling.Answer:
		s.handleAnswer(b, sender, m)
	case signaling.Candidates:
		s.handleCandidates(sender, m)
	case signaling.Ringing:
		s.handleRinging(sender, m)
	case signaling.Hangup:
		s.handleHangup(ctx, b, sender, m)
	default:
		s.log.Warn().Str("peer", sender).Msgf("unsupported signaling message %T", msg)
	}
}

func (s *Service) dropInvalid(sender string, msg signaling.Message) {
	s.log.Info().
		Str("peer", sender).
		Str("kind", msg.Kind().String()).
		Uint64("call_id", uint64(msg.GetCallID())).
		Uint64("current_call_id", uint64(s.state.CallID)).
		Msg("dropping message with invalid call id")
}

func (s *Service) handleOffer(b *batch, sender string, o signaling.Offer) {
	logger := s.log.With().Str("peer", sender).Uint64("call_id", uint64(o.CallID)).Logger()

	// A legacy offer carries no call id, so only the same peer can repeat it.
	if p, known := s.offers[o.CallID]; known && (o.CallID != signaling.NoCallID || p.peer == sender) {
		logger.Debug().Msg("ignoring duplicate offer")
		return
	}
	if s.recent.contains(o.CallID) {
		logger.Debug().Msg("ignoring offer for a call that already ended")
		return
	}

	reject := func(reason signaling.RejectReason, silent bool) {
		logger.Info().Str("reason", reason.String()).Bool("silent", silent).Msg("rejecting offer")
		s.enqueueSend(b, sender, signaling.Answer{
			CallID:       o.CallID,
			Action:       signaling.ActionReject,
			RejectReason: reason,
		}, false)
		s.recent.add(o.CallID)
		if !silent {
			s.events.Publish(MissedCallEvent{Peer: sender, CallID: o.CallID, Reason: reason, At: s.clock.Now()})
		}
	}

	invalid := o.Validate()

	switch {
	case !s.policy.CallsEnabled():
		reject(signaling.ReasonDisabled, true)
		return
	case invalid != nil:
		logger.Warn().Err(invalid).Msg("invalid offer")
		reject(signaling.ReasonUnknown, true)
		return
	case s.state.Phase != PhaseIdle:
		reject(signaling.ReasonBusy, false)
		return
	case s.policy.IsOtherCallActive():
		reject(signaling.ReasonBusy, false)
		return
	case s.policy.IsMutedNow():
		reject(signaling.ReasonOffHours, false)
		return
	case !s.policy.HasValidCredentials():
		reject(signaling.ReasonUnknown, false)
		return
	}

	s.offers[o.CallID] = pendingOffer{peer: sender, offer: o}
	s.setPhase(b, PhaseRinging, o.CallID)
	s.sess.peer = sender

	s.enqueueSend(b, sender, signaling.Ringing{CallID: o.CallID}, false)
	s.live.schedule(o.CallID, s.ringingTimeout)

	call := s.incomingCall(sender, o)
	s.events.Publish(IncomingCallEvent{Call: call, Offer: o})
	b.add(func(context.Context) error {
		if err := s.notes.Show(call); err != nil {
			logger.Warn().Err(err).Msg("failed to show incoming call")
		}
		return nil
	})
	logger.Info().Bool("video", o.Features.Video).Msg("incoming call ringing")
}

// incomingCall builds the alert data with handles bound to this call.
func (s *Service) incomingCall(sender string, o signaling.Offer) IncomingCall {
	callID := o.CallID
	counter := s.state.IncomingCallCounter
	return IncomingCall{
		Peer:    sender,
		CallID:  callID,
		Counter: counter,
		Video:   o.Features.Video,
		Accept: func(ctx context.Context, answer webrtc.SessionDescription, features signaling.Features) error {
			return s.acceptCall(ctx, callID, counter, answer, features)
		},
		Reject: func(ctx context.Context) error {
			return s.rejectCall(ctx, callID, counter, signaling.ReasonRejected)
		},
	}
}

func (s *Service) handleAnswer(b *batch, sender string, a signaling.Answer) {
	if !s.validCallID(a.CallID) {
		s.dropInvalid(sender, a)
		return
	}
	logger := s.log.With().Str("peer", sender).Uint64("call_id", uint64(s.state.CallID)).Logger()

	if !s.isInitiator() || !s.fromPeer(sender) {
		logger.Warn().Msg("ignoring answer for a call we did not start")
		return
	}
	if s.state.AnswerReceived {
		logger.Info().Msg("ignoring repeated answer")
		return
	}
	if err := a.Validate(); err != nil {
		logger.Warn().Err(err).Msg("invalid answer")
		return
	}
	s.state.AnswerReceived = true

	switch a.Action {
	case signaling.ActionAccept:
		logger.Info().Msg("peer accepted call")
		s.events.Publish(ConnectEvent{
			Peer:        sender,
			CallID:      s.state.CallID,
			Description: *a.Description,
			Features:    a.Features,
		})
	case signaling.ActionReject:
		logger.Info().Str("reason", a.RejectReason.String()).Msg("peer rejected call")
		s.abortOutgoing(b, a.RejectReason)
	}
}

// abortOutgoing ends an outgoing call that never connected.
func (s *Service) abortOutgoing(b *batch, reason signaling.RejectReason) {
	peer, id := s.sess.peer, s.state.CallID
	s.endCall(b)
	s.events.Publish(CallAbortedEvent{Peer: peer, CallID: id, Reason: reason, At: s.clock.Now()})
}

func (s *Service) handleCandidates(sender string, c signaling.Candidates) {
	if !s.validCallID(c.CallID) {
		s.dropInvalid(sender, c)
		return
	}
	if c.Removed {
		s.log.Debug().Str("peer", sender).Msg("ignoring removed candidates")
		return
	}
	if len(c.Candidates) == 0 {
		return
	}

	if s.state.Phase != PhaseIdle && !s.fromPeer(sender) {
		s.log.Warn().Str("peer", sender).Msg("ignoring candidates from a different peer")
		return
	}

	switch s.state.Phase {
	case PhaseIdle, PhaseRinging:
		if s.recent.contains(c.CallID) {
			s.log.Debug().Str("peer", sender).Msg("dropping candidates for a call that already ended")
			return
		}
		s.cache.add(sender, c.CallID, c.Candidates)
		s.log.Debug().Str("peer", sender).Int("count", len(c.Candidates)).Msg("cached candidates")
	case PhaseInitializing, PhaseCalling:
		s.events.Publish(CandidatesEvent{Peer: sender, CallID: s.state.CallID, Candidates: c.Candidates})
	default:
		s.log.Warn().
			Str("peer", sender).
			Str("phase", s.state.Phase.String()).
			Msg("dropping candidates received outside of a call")
	}
}

func (s *Service) handleRinging(sender string, r signaling.Ringing) {
	if !s.validCallID(r.CallID) {
		s.dropInvalid(sender, r)
		return
	}
	if s.state.Phase != PhaseInitializing || !s.fromPeer(sender) {
		s.log.Info().
			Str("peer", sender).
			Str("phase", s.state.Phase.String()).
			Msg("ignoring ringing acknowledgement")
		return
	}
	s.sess.peerRinging = true
	s.events.Publish(PeerRingingEvent{Peer: sender, CallID: s.state.CallID})
}

func (s *Service) handleHangup(ctx context.Context, b *batch, sender string, h signaling.Hangup) {
	if !s.validCallID(h.CallID) {
		if s.isMissedCall(ctx, sender, h.CallID) {
			s.reportMissed(b, sender, h.CallID, signaling.ReasonUnknown)
			return
		}
		s.dropInvalid(sender, h)
		return
	}
	if !s.fromPeer(sender) {
		s.log.Warn().Str("peer", sender).Msg("ignoring hangup from a different peer")
		return
	}

	prev := s.state.Phase
	id := s.state.CallID
	incoming := !s.isInitiator()
	startedAt := s.sess.startedAt

	if prev == PhaseIdle {
		if s.isMissedCall(ctx, sender, id) {
			s.reportMissed(b, sender, id, signaling.ReasonUnknown)
			return
		}
		s.log.Debug().Str("peer", sender).Uint64("call_id", uint64(id)).Msg("dropping stale hangup")
		return
	}

	s.endCall(b)
	b.do(func() { s.notes.Cancel(sender, CancelHangup) })

	now := s.clock.Now()
	switch {
	case prev == PhaseCalling && !startedAt.IsZero():
		s.events.Publish(CallCompletedEvent{
			Peer:     sender,
			CallID:   id,
			Incoming: incoming,
			Duration: now.Sub(startedAt),
			At:       now,
		})
	case prev == PhaseDisconnecting:
	case incoming:
		s.events.Publish(MissedCallEvent{Peer: sender, CallID: id, At: now})
	default:
		s.events.Publish(CallAbortedEvent{Peer: sender, CallID: id, Reason: signaling.ReasonUnknown, At: now})
	}
	s.log.Info().
		Str("peer", sender).
		Uint64("call_id", uint64(id)).
		Str("phase", prev.String()).
		Msg("peer hung up")
}

// isMissedCall is the missed-call heuristic: the id is neither among the
// recently ended calls nor in the last few persisted records for peer.
func (s *Service) isMissedCall(ctx context.Context, peer string, id signaling.CallID) bool {
	if id == signaling.NoCallID || s.recent.contains(id) {
		return false
	}
	found, err := s.history.HasRecentCallRecord(ctx, peer, id, s.cfg.HistoryLookback)
	if err != nil {
		s.log.Warn().Err(err).Str("peer", peer).Msg("call history lookup failed")
		return true
	}
	return !found
}

// reportMissed publishes a missed call that has no live session behind it.
func (s *Service) reportMissed(b *batch, peer string, id signaling.CallID, reason signaling.RejectReason) {
	s.recent.add(id)
	b.do(func() { s.notes.Cancel(peer, CancelHangup) })
	s.events.Publish(MissedCallEvent{Peer: peer, CallID: id, Reason: reason, At: s.clock.Now()})
	s.log.Info().Str("peer", peer).Uint64("call_id", uint64(id)).Msg("missed call")
}
