// Package voip implements the call-signaling state machine for a single
// voice/video call between two peers over an asynchronous message transport.
package voip

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dense-identity/callsig/internal/signaling"
)

// Phase is the lifecycle phase of the one call the process can hold.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRinging
	PhaseInitializing
	PhaseCalling
	PhaseDisconnecting
)

func (p Phase) String() string {
	names := []string{"Idle", "Ringing", "Initializing", "Calling", "Disconnecting"}
	if p >= 0 && int(p) < len(names) {
		return names[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// allowedTransitions lists the phase changes the machine expects. Anything
// else is still applied but logged.
var allowedTransitions = map[Phase][]Phase{
	PhaseIdle:          {PhaseRinging, PhaseInitializing},
	PhaseRinging:       {PhaseInitializing, PhaseDisconnecting, PhaseIdle},
	PhaseInitializing:  {PhaseCalling, PhaseDisconnecting},
	PhaseCalling:       {PhaseDisconnecting},
	PhaseDisconnecting: {PhaseIdle},
}

func transitionAllowed(from, to Phase) bool {
	for _, p := range allowedTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// State is a copy of the call state. Values returned by Service.State never
// change underneath the caller.
type State struct {
	Phase               Phase
	CallID              signaling.CallID
	AnswerReceived      bool
	IncomingCallCounter uint32
}

// session holds the fields that only exist while a call is being set up or
// running. It is reset when the machine returns to Idle.
type session struct {
	peer        string
	initiator   *bool
	startedAt   time.Time
	peerRinging bool
	required    map[uuid.UUID]struct{}
}

func newSession() session {
	return session{required: make(map[uuid.UUID]struct{})}
}

func (s *session) setInitiator(v bool) {
	s.initiator = &v
}

// pendingOffer is an OfferRegistry entry.
type pendingOffer struct {
	peer  string
	offer signaling.Offer
}
