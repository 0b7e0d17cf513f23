package voip

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dense-identity/callsig/internal/clock"
	"github.com/dense-identity/callsig/internal/signaling"
)

type sentMessage struct {
	peer string
	id   uuid.UUID
	msg  signaling.Message
}

type fakeTransport struct {
	mu          sync.Mutex
	sent        []sentMessage
	err         error
	rejectKinds map[signaling.Kind]bool
	rejected    map[uuid.UUID]bool

	// gate, when set, holds every Send until it is closed. started receives
	// one value per held Send.
	gate    chan struct{}
	started chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		rejectKinds: make(map[signaling.Kind]bool),
		rejected:    make(map[uuid.UUID]bool),
	}
}

// hold makes Send block until the returned release func is called.
func (t *fakeTransport) hold() (started <-chan struct{}, release func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gate = make(chan struct{})
	t.started = make(chan struct{}, 16)
	gate := t.gate
	return t.started, func() { close(gate) }
}

func (t *fakeTransport) Send(_ context.Context, peer string, id uuid.UUID, msg signaling.Message) error {
	t.mu.Lock()
	gate, started := t.gate, t.started
	t.mu.Unlock()
	if gate != nil {
		started <- struct{}{}
		<-gate
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, sentMessage{peer: peer, id: id, msg: msg})
	if t.rejectKinds[msg.Kind()] {
		t.rejected[id] = true
	}
	return nil
}

func (t *fakeTransport) IsMessageRejected(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rejected[id]
}

func (t *fakeTransport) ofKind(k signaling.Kind) []sentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []sentMessage
	for _, m := range t.sent {
		if m.msg.Kind() == k {
			out = append(out, m)
		}
	}
	return out
}

func (t *fakeTransport) kinds() []signaling.Kind {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]signaling.Kind, 0, len(t.sent))
	for _, m := range t.sent {
		out = append(out, m.msg.Kind())
	}
	return out
}

func (t *fakeTransport) answers() []signaling.Answer {
	var out []signaling.Answer
	for _, m := range t.ofKind(signaling.KindAnswer) {
		out = append(out, m.msg.(signaling.Answer))
	}
	return out
}

type fakeHistory struct {
	mu      sync.Mutex
	records map[signaling.CallID]bool
	err     error
}

func (h *fakeHistory) HasRecentCallRecord(_ context.Context, _ string, id signaling.CallID, _ int) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return false, h.err
	}
	return h.records[id], nil
}

type fakePolicy struct {
	disabled   bool
	otherCall  bool
	muted      bool
	badLicense bool
	broken     bool
}

func (p *fakePolicy) CallsEnabled() bool { return !p.disabled }
func (p *fakePolicy) IsOtherCallActive() bool { return p.otherCall }
func (p *fakePolicy) HasValidCredentials() bool { return !p.badLicense }

func (p *fakePolicy) IsMutedNow() bool {
	if p.broken {
		panic("schedule not loaded")
	}
	return p.muted
}

type fakeControls struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (c *fakeControls) Acquire() {
	c.mu.Lock()
	c.acquired++
	c.mu.Unlock()
}

func (c *fakeControls) Release() {
	c.mu.Lock()
	c.released++
	c.mu.Unlock()
}

type fakeRenderer struct {
	mu         sync.Mutex
	shown      []IncomingCall
	cancelled  []string
	fullScreen []string

	// onShow runs after an alert is recorded, like a user tapping it.
	onShow func(call IncomingCall)
}

func (r *fakeRenderer) ShowIncomingCall(call IncomingCall) error {
	r.mu.Lock()
	r.shown = append(r.shown, call)
	onShow := r.onShow
	r.mu.Unlock()

	if onShow != nil {
		onShow(call)
	}
	return nil
}

func (r *fakeRenderer) CancelIncomingCall(peer string, _ CancelReason) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, peer)
	return nil
}

func (r *fakeRenderer) CancelFullScreen(peer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fullScreen = append(r.fullScreen, peer)
	return nil
}

func (r *fakeRenderer) counts() (shown, cancelled, fullScreen int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shown), len(r.cancelled), len(r.fullScreen)
}

type harness struct {
	svc       *Service
	transport *fakeTransport
	history   *fakeHistory
	policy    *fakePolicy
	controls  *fakeControls
	renderer  *fakeRenderer
	clock     *clock.Fake
	events    <-chan Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		history:   &fakeHistory{records: make(map[signaling.CallID]bool)},
		policy:    &fakePolicy{},
		controls:  &fakeControls{},
		renderer:  &fakeRenderer{},
		clock:     clock.NewFake(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)),
	}
	logger := zerolog.Nop()
	cfg := DefaultConfig()
	cfg.EventBuffer = 256
	h.svc = NewService(cfg, Deps{
		Transport: h.transport,
		History:   h.history,
		Policy:    h.policy,
		Controls:  h.controls,
		Renderer:  h.renderer,
		Clock:     h.clock,
		Logger:    &logger,
	})
	events, unsubscribe := h.svc.Events().Subscribe()
	t.Cleanup(unsubscribe)
	h.events = events
	return h
}

// drain returns every event published so far.
func (h *harness) drain() []Event {
	var out []Event
	for {
		select {
		case e := <-h.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func eventsOf[T Event](events []Event) []T {
	var out []T
	for _, e := range events {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func offerFor(id signaling.CallID) signaling.Offer {
	return signaling.Offer{
		CallID:      id,
		Description: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"},
	}
}

func answerDescription() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"}
}

// returnsWithin reports whether fn returns before d passes.
func returnsWithin(d time.Duration, fn func()) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

func (c *candidateCache) size() int { return len(c.batches) }

func candidate(s string) []webrtc.ICECandidateInit {
	return []webrtc.ICECandidateInit{{Candidate: s}}
}
