// Package signaling defines the five call-signaling message kinds exchanged
// between peers and their compact wire encoding.
package signaling

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// CallID scopes one call end-to-end. NoCallID marks a message from a peer
// that omits call ids; it is never a real identifier.
type CallID uint64

const NoCallID CallID = 0

// Kind identifies a signaling message type on the wire.
type Kind uint8

const (
	KindOffer Kind = iota + 1
	KindAnswer
	KindCandidates
	KindRinging
	KindHangup
)

func (k Kind) String() string {
	switch k {
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	case KindCandidates:
		return "candidates"
	case KindRinging:
		return "ringing"
	case KindHangup:
		return "hangup"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

var (
	// ErrMalformed is returned for frames or payloads that cannot be decoded
	// or fail structural validation.
	ErrMalformed = errors.New("malformed signaling message")
)

// Message is implemented by Offer, Answer, Candidates, Ringing and Hangup.
type Message interface {
	Kind() Kind
	GetCallID() CallID
}

// Features lists optional capabilities advertised with an offer or answer.
type Features struct {
	Video bool
}

// Offer starts a call.
type Offer struct {
	CallID      CallID
	Description webrtc.SessionDescription
	Features    Features
}

func (Offer) Kind() Kind { return KindOffer }
func (o Offer) GetCallID() CallID { return o.CallID }

// Validate checks the offer carries an "offer" session description with a body.
func (o Offer) Validate() error {
	if o.Description.Type != webrtc.SDPTypeOffer {
		return fmt.Errorf("%w: offer has sdp type %q", ErrMalformed, sdpTypeString(o.Description.Type))
	}
	if o.Description.SDP == "" {
		return fmt.Errorf("%w: offer without session description", ErrMalformed)
	}
	return nil
}

// Action is the callee's decision carried in an Answer.
type Action uint8

const (
	ActionReject Action = iota
	ActionAccept
)

func (a Action) String() string {
	switch a {
	case ActionReject:
		return "reject"
	case ActionAccept:
		return "accept"
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// RejectReason explains an ActionReject answer.
type RejectReason uint8

const (
	ReasonUnknown RejectReason = iota
	ReasonBusy
	ReasonTimeout
	ReasonRejected
	ReasonDisabled
	ReasonOffHours
)

func (r RejectReason) String() string {
	switch r {
	case ReasonUnknown:
		return "unknown"
	case ReasonBusy:
		return "busy"
	case ReasonTimeout:
		return "timeout"
	case ReasonRejected:
		return "rejected"
	case ReasonDisabled:
		return "disabled"
	case ReasonOffHours:
		return "off_hours"
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// Answer accepts or rejects an offer.
type Answer struct {
	CallID       CallID
	Action       Action
	Description  *webrtc.SessionDescription
	Features     Features
	RejectReason RejectReason
}

func (Answer) Kind() Kind { return KindAnswer }
func (a Answer) GetCallID() CallID { return a.CallID }

// Validate checks the action is known and that an accept carries an answer or
// pranswer session description.
func (a Answer) Validate() error {
	switch a.Action {
	case ActionReject:
		return nil
	case ActionAccept:
		if a.Description == nil || a.Description.SDP == "" {
			return fmt.Errorf("%w: accept without session description", ErrMalformed)
		}
		if t := a.Description.Type; t != webrtc.SDPTypeAnswer && t != webrtc.SDPTypePranswer {
			return fmt.Errorf("%w: accept with sdp type %q", ErrMalformed, sdpTypeString(t))
		}
		return nil
	}
	return fmt.Errorf("%w: unknown answer action %d", ErrMalformed, a.Action)
}

// Candidates carries a batch of ICE candidates.
// Removed is a deprecated marker; such batches are ignored on receipt.
type Candidates struct {
	CallID     CallID
	Candidates []webrtc.ICECandidateInit
	Removed    bool
}

func (Candidates) Kind() Kind { return KindCandidates }
func (c Candidates) GetCallID() CallID { return c.CallID }

// Ringing tells the caller the callee's device is ringing.
type Ringing struct {
	CallID CallID
}

func (Ringing) Kind() Kind { return KindRinging }
func (r Ringing) GetCallID() CallID { return r.CallID }

// Hangup ends a call.
type Hangup struct {
	CallID CallID
}

func (Hangup) Kind() Kind { return KindHangup }
func (h Hangup) GetCallID() CallID { return h.CallID }

func sdpTypeString(t webrtc.SDPType) string {
	if t == webrtc.SDPTypeUnknown {
		return ""
	}
	return t.String()
}
