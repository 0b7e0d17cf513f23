package voip

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dense-identity/callsig/internal/signaling"
)

// CancelReason says why an incoming-call alert went away.
type CancelReason string

const (
	CancelAccepted CancelReason = "accepted"
	CancelRejected CancelReason = "rejected"
	CancelHangup   CancelReason = "hangup"
	CancelTimeout  CancelReason = "timeout"
	CancelAborted  CancelReason = "aborted"
)

// IncomingCall is the data an alert needs. Accept and Reject are bound to the
// call id and to the incoming-call counter value at the time it was shown, so
// a stale alert cannot act on a newer call.
type IncomingCall struct {
	Peer    string
	CallID  signaling.CallID
	Counter uint32
	Video   bool

	Accept func(ctx context.Context, answer webrtc.SessionDescription, features signaling.Features) error
	Reject func(ctx context.Context) error
}

// Renderer draws and removes platform alerts.
type Renderer interface {
	ShowIncomingCall(call IncomingCall) error
	CancelIncomingCall(peer string, reason CancelReason) error
	CancelFullScreen(peer string) error
}

// Notifications tracks which peers currently have an incoming-call alert.
type Notifications struct {
	mu       sync.Mutex
	active   map[string]IncomingCall
	renderer Renderer
	log      zerolog.Logger
}

func NewNotifications(r Renderer, logger zerolog.Logger) *Notifications {
	if r == nil {
		r = nopRenderer{}
	}
	return &Notifications{
		active:   make(map[string]IncomingCall),
		renderer: r,
		log:      logger,
	}
}

// Show renders the alert for call.Peer. Showing again for the same peer
// replaces the tracked entry.
func (n *Notifications) Show(call IncomingCall) error {
	n.mu.Lock()
	n.active[call.Peer] = call
	n.mu.Unlock()

	return n.renderer.ShowIncomingCall(call)
}

// Cancel stops tracking peer and asks the renderer to remove both the alert
// and any full-screen launch for it, even when nothing was tracked. It
// reports whether an alert was tracked.
func (n *Notifications) Cancel(peer string, reason CancelReason) bool {
	n.mu.Lock()
	_, tracked := n.active[peer]
	delete(n.active, peer)
	n.mu.Unlock()

	if err := n.renderer.CancelIncomingCall(peer, reason); err != nil {
		n.log.Debug().Err(err).Str("peer", peer).Msg("cancel incoming call alert")
	}
	if err := n.renderer.CancelFullScreen(peer); err != nil {
		n.log.Debug().Err(err).Str("peer", peer).Msg("cancel full screen call")
	}
	return tracked
}

// Active reports whether peer has a tracked alert.
func (n *Notifications) Active(peer string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.active[peer]
	return ok
}

type nopRenderer struct{}

func (nopRenderer) ShowIncomingCall(IncomingCall) error { return nil }
func (nopRenderer) CancelIncomingCall(string, CancelReason) error { return nil }
func (nopRenderer) CancelFullScreen(string) error { return nil }
