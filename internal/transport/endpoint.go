package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dense-identity/callsig/internal/encryption"
	"github.com/dense-identity/callsig/internal/helpers"
	"github.com/dense-identity/callsig/internal/signaling"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Keys resolves a peer identity to its X25519 public key.
type Keys interface {
	PublicKey(identity string) ([]byte, error)
}

// Handler receives inbound signaling and delivery failures. voip.Service
// implements it.
type Handler interface {
	HandleMessage(ctx context.Context, sender string, msg signaling.Message)
	MessageRejected(ctx context.Context, id uuid.UUID) bool
}

// Identity is the local end of a transport.
type Identity struct {
	Name       string
	PrivateKey []byte
}

const rejectedCapacity = 256

// endpoint holds what the relay and NATS transports share: sealing, opening
// and the record of rejected message ids.
type endpoint struct {
	self   Identity
	keys   Keys
	logger zerolog.Logger

	mu       sync.Mutex
	handler  Handler
	rejected map[uuid.UUID]struct{}
	order    []uuid.UUID
}

func newEndpoint(self Identity, keys Keys, logger zerolog.Logger) (*endpoint, error) {
	if self.Name == "" {
		return nil, errors.New("transport: identity required")
	}
	if len(self.PrivateKey) != encryption.PrivateKeySize {
		return nil, fmt.Errorf("transport: private key must be %d bytes", encryption.PrivateKeySize)
	}
	if keys == nil {
		return nil, errors.New("transport: key lookup required")
	}
	return &endpoint{
		self:     self,
		keys:     keys,
		logger:   logger,
		rejected: make(map[uuid.UUID]struct{}),
	}, nil
}

func (e *endpoint) attach(h Handler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

func (e *endpoint) currentHandler() Handler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handler
}

func (e *endpoint) markRejected(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rejected[id]; ok {
		return
	}
	if len(e.order) == rejectedCapacity {
		delete(e.rejected, e.order[0])
		e.order = e.order[1:]
	}
	e.rejected[id] = struct{}{}
	e.order = append(e.order, id)
}

// IsMessageRejected reports whether delivery of id is known to have failed.
func (e *endpoint) IsMessageRejected(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.rejected[id]
	return ok
}

// seal encodes msg and seals it for peer.
func (e *endpoint) seal(peer string, id uuid.UUID, msg signaling.Message) ([]byte, error) {
	body, err := signaling.Marshal(msg)
	if err != nil {
		return nil, err
	}
	key, err := e.keys.PublicKey(peer)
	if err != nil {
		return nil, err
	}
	sealed, err := encryption.Seal(e.self.PrivateKey, key, body, additionalData(e.self.Name, id))
	if err != nil {
		return nil, err
	}
	return encodeEnvelope(&Envelope{
		Kind:      KindSignal,
		MessageID: id[:],
		Sender:    e.self.Name,
		Sealed:    sealed,
	})
}

func (e *endpoint) receipt(id uuid.UUID, reason string) ([]byte, error) {
	return encodeEnvelope(&Envelope{
		Kind:      KindRejected,
		MessageID: id[:],
		Sender:    e.self.Name,
		Reason:    reason,
	})
}

// receive processes one inbound payload. from is the sender as attested by
// the carrier, or empty when the carrier does not attest senders. The
// returned receipt, if any, must be sent back to the returned peer.
func (e *endpoint) receive(ctx context.Context, from string, payload []byte) (peer string, receipt []byte) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		e.logger.Warn().Err(err).Str("from", from).Msg("dropping undecodable envelope")
		return "", nil
	}
	if from != "" && env.Sender != from {
		e.logger.Warn().Str("from", from).Str("sender", env.Sender).Msg("envelope sender does not match carrier")
		return "", nil
	}
	id, err := env.id()
	if err != nil {
		e.logger.Warn().Err(err).Str("sender", env.Sender).Msg("dropping envelope without message id")
		return "", nil
	}

	h := e.currentHandler()
	if env.Kind == KindRejected {
		e.logger.Info().
			Str("message_id", id.String()).
			Str("peer", env.Sender).
			Str("reason", env.Reason).
			Msg("peer rejected message")
		e.markRejected(id)
		if h != nil {
			h.MessageRejected(ctx, id)
		}
		return "", nil
	}

	senderKey, err := e.keys.PublicKey(env.Sender)
	if err != nil {
		e.logger.Warn().Err(err).Str("message_id", id.String()).Str("sender", env.Sender).Msg("dropping message from unknown sender")
		return "", nil
	}
	msg, err := e.open(env, senderKey, id)
	if err != nil {
		e.logger.Warn().Err(err).Str("message_id", id.String()).Str("sender", env.Sender).Msg("rejecting message")
		receipt, rerr := e.receipt(id, err.Error())
		if rerr != nil {
			e.logger.Error().Err(rerr).Msg("encode receipt")
			return "", nil
		}
		return env.Sender, receipt
	}
	if h == nil {
		e.logger.Warn().Str("message_id", id.String()).Msg("no handler attached, dropping message")
		return "", nil
	}
	h.HandleMessage(ctx, env.Sender, msg)
	return "", nil
}

// open authenticates env as sealed by the holder of senderKey and decodes it.
func (e *endpoint) open(env *Envelope, senderKey []byte, id uuid.UUID) (signaling.Message, error) {
	body, err := encryption.Open(e.self.PrivateKey, senderKey, env.Sealed, additionalData(env.Sender, id))
	if err != nil {
		return nil, err
	}
	defer helpers.WipeBytes(body)
	return signaling.Unmarshal(body)
}
