package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dense-identity/callsig/internal/signaling"
	"github.com/dense-identity/callsig/internal/voip"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type Config struct {
	STUNServers []string `env:"STUN_SERVERS" envSeparator:","`
	AutoAnswer  bool     `env:"AUTO_ANSWER" envDefault:"false"`
	Video       bool     `env:"VIDEO" envDefault:"false"`
}

// Calls is the call-signaling API the controller drives. *voip.Service
// implements it.
type Calls interface {
	Events() *voip.Bus
	StartCall(ctx context.Context, peer string) (signaling.CallID, error)
	SendOffer(ctx context.Context, desc webrtc.SessionDescription, features signaling.Features) error
	SendCandidates(ctx context.Context, candidates []webrtc.ICECandidateInit) error
	Connected(callID signaling.CallID) error
	Disconnected(ctx context.Context) error
}

// peerConnection is the part of *webrtc.PeerConnection the controller uses.
type peerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	Close() error
}

// ErrBusy is returned when a media session already exists.
var ErrBusy = errors.New("media: session already active")

const signalTimeout = 10 * time.Second

// Controller owns at most one PeerConnection and keeps it in step with the
// call state published by the signaling service.
type Controller struct {
	calls  Calls
	cfg    Config
	newPC  func() (peerConnection, error)
	logger zerolog.Logger

	mu      sync.Mutex
	session *session
}

type session struct {
	pc     peerConnection
	callID signaling.CallID

	// ready is set once our offer or answer is out. Local candidates found
	// before that are held back.
	ready         bool
	localPending  []webrtc.ICECandidateInit
	remotePending []webrtc.ICECandidateInit
}

func NewController(calls Calls, cfg Config, logger zerolog.Logger) *Controller {
	c := &Controller{calls: calls, cfg: cfg, logger: logger.With().Str("component", "media").Logger()}
	c.newPC = c.newPeerConnection
	return c
}

func (c *Controller) newPeerConnection() (peerConnection, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("registering codecs: %w", err)
	}
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	config := webrtc.Configuration{}
	if len(c.cfg.STUNServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: c.cfg.STUNServers}}
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		pc.Close()
		return nil, fmt.Errorf("adding audio transceiver: %w", err)
	}
	if c.cfg.Video {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo); err != nil {
			pc.Close()
			return nil, fmt.Errorf("adding video transceiver: %w", err)
		}
	}
	return pc, nil
}

func (c *Controller) features() signaling.Features {
	return signaling.Features{Video: c.cfg.Video}
}

// open creates the session's PeerConnection and wires its callbacks.
func (c *Controller) open() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return nil, ErrBusy
	}
	pc, err := c.newPC()
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}
	s := &session{pc: pc}
	c.session = s

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.localCandidate(s, cand.ToJSON())
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.connectionState(s, state)
	})
	return s, nil
}

// Call starts an outgoing call to peer and sends our offer.
func (c *Controller) Call(ctx context.Context, peer string) (signaling.CallID, error) {
	s, err := c.open()
	if err != nil {
		return 0, err
	}

	callID, err := c.calls.StartCall(ctx, peer)
	if err != nil {
		c.close(s)
		return 0, err
	}
	c.mu.Lock()
	s.callID = callID
	c.mu.Unlock()

	offer, err := s.pc.CreateOffer(nil)
	if err == nil {
		err = s.pc.SetLocalDescription(offer)
	}
	if err == nil {
		err = c.calls.SendOffer(ctx, offer, c.features())
	}
	if err != nil {
		c.abort(ctx, s)
		return 0, fmt.Errorf("offer: %w", err)
	}

	c.markReady(ctx, s)
	c.logger.Info().Str("peer", peer).Uint64("call_id", uint64(callID)).Msg("offer sent")
	return callID, nil
}

// Answer accepts an incoming call with a fresh PeerConnection.
func (c *Controller) Answer(ctx context.Context, call voip.IncomingCall, offer signaling.Offer) error {
	s, err := c.open()
	if err != nil {
		return err
	}
	c.mu.Lock()
	s.callID = call.CallID
	c.mu.Unlock()

	var answer webrtc.SessionDescription
	err = s.pc.SetRemoteDescription(offer.Description)
	if err == nil {
		answer, err = s.pc.CreateAnswer(nil)
	}
	if err == nil {
		err = s.pc.SetLocalDescription(answer)
	}
	if err != nil {
		c.close(s)
		if rerr := call.Reject(ctx); rerr != nil {
			c.logger.Warn().Err(rerr).Msg("reject after media failure")
		}
		return fmt.Errorf("answer: %w", err)
	}
	if err := call.Accept(ctx, answer, c.features()); err != nil {
		c.close(s)
		return err
	}

	c.markReady(ctx, s)
	c.logger.Info().Str("peer", call.Peer).Uint64("call_id", uint64(call.CallID)).Msg("call answered")
	return nil
}

func (c *Controller) markReady(ctx context.Context, s *session) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	s.ready = true
	pending := s.localPending
	s.localPending = nil
	c.mu.Unlock()

	if len(pending) > 0 {
		if err := c.calls.SendCandidates(ctx, pending); err != nil {
			c.logger.Warn().Err(err).Msg("sending held candidates")
		}
	}
}

func (c *Controller) localCandidate(s *session, cand webrtc.ICECandidateInit) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	if !s.ready {
		s.localPending = append(s.localPending, cand)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()
	if err := c.calls.SendCandidates(ctx, []webrtc.ICECandidateInit{cand}); err != nil {
		c.logger.Warn().Err(err).Msg("sending candidate")
	}
}

func (c *Controller) connectionState(s *session, state webrtc.PeerConnectionState) {
	c.mu.Lock()
	current := c.session == s
	callID := s.callID
	c.mu.Unlock()
	if !current {
		return
	}

	c.logger.Info().Str("state", state.String()).Uint64("call_id", uint64(callID)).Msg("connection state change")
	switch state {
	case webrtc.PeerConnectionStateConnected:
		if err := c.calls.Connected(callID); err != nil {
			c.logger.Warn().Err(err).Msg("connected")
		}
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
		defer cancel()
		if err := c.calls.Disconnected(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("disconnected")
		}
	}
}

// abort tears down both the media and the call after a local failure.
func (c *Controller) abort(ctx context.Context, s *session) {
	c.close(s)
	if err := c.calls.Disconnected(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("abort call")
	}
}

func (c *Controller) close(s *session) {
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()
	if err := s.pc.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("closing PeerConnection")
	}
}

// Active reports whether a media session exists.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Run follows the service's events until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	events, unsubscribe := c.calls.Events().Subscribe(
		voip.EventIncomingCall,
		voip.EventConnect,
		voip.EventCandidates,
		voip.EventStateChanged,
	)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			s := c.session
			c.mu.Unlock()
			if s != nil {
				c.close(s)
			}
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			c.handle(ctx, e)
		}
	}
}

func (c *Controller) handle(ctx context.Context, e voip.Event) {
	switch e := e.(type) {
	case voip.IncomingCallEvent:
		if !c.cfg.AutoAnswer {
			return
		}
		if err := c.Answer(ctx, e.Call, e.Offer); err != nil {
			c.logger.Error().Err(err).Str("peer", e.Call.Peer).Msg("auto-answer failed")
		}
	case voip.ConnectEvent:
		c.remoteAnswer(e)
	case voip.CandidatesEvent:
		c.remoteCandidates(e)
	case voip.StateChangedEvent:
		if e.Current.Phase != voip.PhaseIdle {
			return
		}
		c.mu.Lock()
		s := c.session
		c.mu.Unlock()
		// Only the call that just ended; a new session may already exist.
		if s != nil && s.callID == e.Previous.CallID {
			c.close(s)
		}
	}
}

func (c *Controller) remoteAnswer(e voip.ConnectEvent) {
	c.mu.Lock()
	s := c.session
	if s == nil || s.callID != e.CallID {
		c.mu.Unlock()
		return
	}
	pending := s.remotePending
	s.remotePending = nil
	c.mu.Unlock()

	if err := s.pc.SetRemoteDescription(e.Description); err != nil {
		c.logger.Error().Err(err).Msg("setting remote description")
		c.abort(context.Background(), s)
		return
	}
	c.addCandidates(s, pending)
}

func (c *Controller) remoteCandidates(e voip.CandidatesEvent) {
	c.mu.Lock()
	s := c.session
	if s == nil || s.callID != e.CallID {
		c.mu.Unlock()
		return
	}
	if s.pc.RemoteDescription() == nil {
		s.remotePending = append(s.remotePending, e.Candidates...)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.addCandidates(s, e.Candidates)
}

func (c *Controller) addCandidates(s *session, candidates []webrtc.ICECandidateInit) {
	for _, cand := range candidates {
		if err := s.pc.AddICECandidate(cand); err != nil {
			c.logger.Warn().Err(err).Str("candidate", cand.Candidate).Msg("adding remote candidate")
		}
	}
}
