package voip

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dense-identity/callsig/internal/signaling"
)

// EventKind selects events on the Bus.
type EventKind int

const (
	EventStateChanged EventKind = iota + 1
	EventCandidates
	EventConnect
	EventPeerRinging
	EventIncomingCall
	EventMissedCall
	EventCallCompleted
	EventCallAborted
	EventCallRejected
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventCandidates:
		return "candidates"
	case EventConnect:
		return "connect"
	case EventPeerRinging:
		return "peer_ringing"
	case EventIncomingCall:
		return "incoming_call"
	case EventMissedCall:
		return "missed_call"
	case EventCallCompleted:
		return "call_completed"
	case EventCallAborted:
		return "call_aborted"
	case EventCallRejected:
		return "call_rejected"
	}
	return "unknown"
}

// Event is published by the Service for the media layer, the UI and the
// history recorder.
type Event interface {
	Kind() EventKind
}

// StateChangedEvent follows every actual phase change.
type StateChangedEvent struct {
	Previous State
	Current  State
}

// CandidatesEvent hands remote ICE candidates to the media session.
type CandidatesEvent struct {
	Peer       string
	CallID     signaling.CallID
	Candidates []webrtc.ICECandidateInit
}

// ConnectEvent tells the media layer the peer accepted our offer.
type ConnectEvent struct {
	Peer        string
	CallID      signaling.CallID
	Description webrtc.SessionDescription
	Features    signaling.Features
}

// PeerRingingEvent reports that the callee's device is ringing.
type PeerRingingEvent struct {
	Peer   string
	CallID signaling.CallID
}

// IncomingCallEvent is published once per admitted offer.
type IncomingCallEvent struct {
	Call  IncomingCall
	Offer signaling.Offer
}

// MissedCallEvent is an incoming call that ended without reaching Calling.
type MissedCallEvent struct {
	Peer   string
	CallID signaling.CallID
	Reason signaling.RejectReason
	At     time.Time
}

// CallCompletedEvent is a call that reached Calling and then ended.
type CallCompletedEvent struct {
	Peer     string
	CallID   signaling.CallID
	Incoming bool
	Duration time.Duration
	At       time.Time
}

// CallAbortedEvent is an outgoing call that ended before it connected.
type CallAbortedEvent struct {
	Peer   string
	CallID signaling.CallID
	Reason signaling.RejectReason
	At     time.Time
}

// CallRejectedEvent is an incoming call the local user declined.
type CallRejectedEvent struct {
	Peer   string
	CallID signaling.CallID
	Reason signaling.RejectReason
	At     time.Time
}

func (StateChangedEvent) Kind() EventKind { return EventStateChanged }
func (CandidatesEvent) Kind() EventKind { return EventCandidates }
func (ConnectEvent) Kind() EventKind { return EventConnect }
func (PeerRingingEvent) Kind() EventKind { return EventPeerRinging }
func (IncomingCallEvent) Kind() EventKind { return EventIncomingCall }
func (MissedCallEvent) Kind() EventKind { return EventMissedCall }
func (CallCompletedEvent) Kind() EventKind { return EventCallCompleted }
func (CallAbortedEvent) Kind() EventKind { return EventCallAborted }
func (CallRejectedEvent) Kind() EventKind { return EventCallRejected }

type subscription struct {
	ch    chan Event
	kinds map[EventKind]struct{}
}

func (s *subscription) wants(k EventKind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

// Bus fans events out to subscribers. Publish never blocks: an event for a
// subscriber whose buffer is full is dropped and logged.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	buffer int
	log    zerolog.Logger
}

// NewBus creates a bus whose subscriptions buffer up to buffer events.
func NewBus(buffer int, logger zerolog.Logger) *Bus {
	if buffer <= 0 {
		buffer = 1
	}
	return &Bus{
		subs:   make(map[*subscription]struct{}),
		buffer: buffer,
		log:    logger,
	}
}

// Subscribe returns a channel receiving the given kinds, or every kind when
// none are given. The returned func unsubscribes and closes the channel.
func (b *Bus) Subscribe(kinds ...EventKind) (<-chan Event, func()) {
	sub := &subscription{ch: make(chan Event, b.buffer)}
	if len(kinds) > 0 {
		sub.kinds = make(map[EventKind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish delivers e to every interested subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if !sub.wants(e.Kind()) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.log.Warn().Str("event", e.Kind().String()).Msg("event subscriber is full, dropping event")
		}
	}
}
