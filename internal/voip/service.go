package voip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dense-identity/callsig/internal/clock"
	"github.com/dense-identity/callsig/internal/signaling"
)

var (
	// ErrContractViolation is returned when a caller asks for something the
	// current phase does not permit. It indicates a bug in the caller.
	ErrContractViolation = errors.New("call contract violation")

	// ErrTransport wraps failures reported by the Transport.
	ErrTransport = errors.New("signaling transport failure")

	// ErrNoSuchCall is returned by local actions that name a call which is no
	// longer the current one.
	ErrNoSuchCall = errors.New("no such call")
)

type Config struct {
	RingingTimeout  time.Duration `env:"RINGING_TIMEOUT" envDefault:"60s"`
	RecentCallIDs   int           `env:"RECENT_CALL_IDS" envDefault:"16"`
	HistoryLookback int           `env:"HISTORY_LOOKBACK" envDefault:"4"`
	EventBuffer     int           `env:"EVENT_BUFFER" envDefault:"64"`
}

// DefaultConfig matches the env defaults.
func DefaultConfig() Config {
	return Config{
		RingingTimeout:  60 * time.Second,
		RecentCallIDs:   16,
		HistoryLookback: 4,
		EventBuffer:     64,
	}
}

// Transport delivers signaling messages to peers.
type Transport interface {
	Send(ctx context.Context, peer string, id uuid.UUID, msg signaling.Message) error

	// IsMessageRejected reports whether delivery of message id is known to
	// have failed.
	IsMessageRejected(id uuid.UUID) bool
}

// CallHistory looks up persisted call records.
type CallHistory interface {
	HasRecentCallRecord(ctx context.Context, peer string, callID signaling.CallID, lookback int) (bool, error)
}

// Policy is consulted when an offer arrives.
type Policy interface {
	CallsEnabled() bool
	IsOtherCallActive() bool
	IsMutedNow() bool
	HasValidCredentials() bool
}

// CallControls captures platform call-control input (media buttons and the
// like) while a call is being set up or running.
type CallControls interface {
	Acquire()
	Release()
}

// Deps are the collaborators of a Service. Only Transport is required.
type Deps struct {
	Transport Transport
	History   CallHistory
	Policy    Policy
	Controls  CallControls
	Renderer  Renderer
	Clock     clock.Clock
	Logger    *zerolog.Logger
}

// Service owns the call state and applies inbound messages and local actions
// to it. All mutations run under one lock. Sends and renderer calls that a
// mutation decides on are queued under that lock and run after it is
// released, in transition order, by whichever caller finds the queue idle.
type Service struct {
	cfg       Config
	transport Transport
	history   CallHistory
	policy    Policy
	controls  CallControls
	notes     *Notifications
	events    *Bus
	clock     clock.Clock
	log       zerolog.Logger

	mu       sync.RWMutex
	queue    []*batch
	draining bool

	state  State
	sess   session
	offers map[signaling.CallID]pendingOffer
	cache  candidateCache
	recent *recentCallIDs
	live   *supervisor
}

func NewService(cfg Config, deps Deps) *Service {
	def := DefaultConfig()
	if cfg.RingingTimeout <= 0 {
		cfg.RingingTimeout = def.RingingTimeout
	}
	if cfg.RecentCallIDs <= 0 {
		cfg.RecentCallIDs = def.RecentCallIDs
	}
	if cfg.HistoryLookback <= 0 {
		cfg.HistoryLookback = def.HistoryLookback
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}

	logger := log.Logger
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	logger = logger.With().Str("component", "voip").Logger()

	if deps.History == nil {
		deps.History = noHistory{}
	}
	if deps.Policy == nil {
		deps.Policy = openPolicy{}
	}
	if deps.Controls == nil {
		deps.Controls = nopControls{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}

	return &Service{
		cfg:       cfg,
		transport: deps.Transport,
		history:   deps.History,
		policy:    deps.Policy,
		controls:  deps.Controls,
		notes:     NewNotifications(deps.Renderer, logger),
		events:    NewBus(cfg.EventBuffer, logger),
		clock:     deps.Clock,
		log:       logger,
		sess:      newSession(),
		offers:    make(map[signaling.CallID]pendingOffer),
		recent:    newRecentCallIDs(cfg.RecentCallIDs),
		live:      newSupervisor(deps.Clock, cfg.RingingTimeout),
	}
}

// Events returns the bus the Service publishes on.
func (s *Service) Events() *Bus { return s.events }

// Notifications returns the incoming-call alert registry.
func (s *Service) Notifications() *Notifications { return s.notes }

// State returns a snapshot of the call state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Initiator reports whether we originated the current call. known is false
// until a call is being set up.
func (s *Service) Initiator() (initiator, known bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sess.initiator == nil {
		return false, false
	}
	return *s.sess.initiator, true
}

// Peer returns the identity of the current call's peer, if any.
func (s *Service) Peer() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess.peer
}

// PeerRinging reports whether the callee acknowledged our offer since the
// last transition.
func (s *Service) PeerRinging() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess.peerRinging
}

// PendingOffer returns the registered offer for callID.
func (s *Service) PendingOffer(callID signaling.CallID) (peer string, offer signaling.Offer, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.offers[callID]
	return p.peer, p.offer, ok
}

// batch collects work decided under the state lock that must run after it
// is released.
type batch struct {
	ops      []func(ctx context.Context) error
	required []uuid.UUID

	ctx  context.Context
	errs []error
}

func (b *batch) add(op func(ctx context.Context) error) {
	b.ops = append(b.ops, op)
}

func (b *batch) do(fn func()) {
	b.ops = append(b.ops, func(context.Context) error {
		fn()
		return nil
	})
}

// run must be called with s.mu held for writing. It queues b behind any
// batch already waiting and releases s.mu. If no other caller is draining
// the queue, run drains it, including b, and returns the errors of b's ops.
// Otherwise b is left to the draining caller, its failures are only logged,
// and run returns nil at once. Ops may call back into the Service.
func (s *Service) run(ctx context.Context, b *batch) error {
	if len(b.ops) == 0 && len(b.required) == 0 {
		s.mu.Unlock()
		return nil
	}
	b.ctx = ctx
	s.queue = append(s.queue, b)
	if s.draining {
		s.mu.Unlock()
		return nil
	}

	s.draining = true
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.execute(next)
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
	return errors.Join(b.errs...)
}

// execute runs the ops of b in order and then feeds required messages the
// transport already knows were rejected back into MessageRejected. It is
// called without s.mu held.
func (s *Service) execute(b *batch) {
	for _, op := range b.ops {
		if err := s.guard(b.ctx, op); err != nil {
			b.errs = append(b.errs, err)
		}
	}
	for _, id := range b.required {
		_ = s.guard(b.ctx, func(ctx context.Context) error {
			if s.transport.IsMessageRejected(id) {
				s.MessageRejected(ctx, id)
			}
			return nil
		})
	}
}

// guard runs op and turns a panic into an error so the queue keeps draining.
func (s *Service) guard(ctx context.Context, op func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("call side effect panicked")
			err = fmt.Errorf("side effect panicked: %v", r)
		}
	}()
	return op(ctx)
}

type noHistory struct{}

func (noHistory) HasRecentCallRecord(context.Context, string, signaling.CallID, int) (bool, error) {
	return false, nil
}

type openPolicy struct{}

func (openPolicy) CallsEnabled() bool { return true }
func (openPolicy) IsOtherCallActive() bool { return false }
func (openPolicy) IsMutedNow() bool { return false }
func (openPolicy) HasValidCredentials() bool { return true }

type nopControls struct{}

func (nopControls) Acquire() {}
func (nopControls) Release() {}
