package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dense-identity/callsig/internal/encryption"
	"github.com/dense-identity/callsig/internal/relay"
	"github.com/dense-identity/callsig/internal/signaling"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

type keyring map[string][]byte

func (k keyring) PublicKey(identity string) ([]byte, error) {
	key, ok := k[identity]
	if !ok {
		return nil, errors.New("unknown contact")
	}
	return key, nil
}

type received struct {
	sender string
	msg    signaling.Message
}

type fakeHandler struct {
	mu       sync.Mutex
	messages []received
	rejected []uuid.UUID
}

func (h *fakeHandler) HandleMessage(_ context.Context, sender string, msg signaling.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, received{sender, msg})
}

func (h *fakeHandler) MessageRejected(_ context.Context, id uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejected = append(h.rejected, id)
	return true
}

func (h *fakeHandler) snapshot() ([]received, []uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]received(nil), h.messages...), append([]uuid.UUID(nil), h.rejected...)
}

// memMailbox stands in for a relay with every identity present.
type memMailbox struct {
	mu      sync.Mutex
	boxes   map[string][]relay.Message
	failFor map[string]error
}

func newMemMailbox() *memMailbox {
	return &memMailbox{boxes: make(map[string][]relay.Message), failFor: make(map[string]error)}
}

func (m *memMailbox) Deliver(_ context.Context, msg relay.Message) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failFor[msg.Recipient]; err != nil {
		return time.Time{}, err
	}
	msg.StoredAt = time.Now()
	m.boxes[msg.Recipient] = append(m.boxes[msg.Recipient], msg)
	return msg.StoredAt, nil
}

func (m *memMailbox) Fetch(_ context.Context, identity string) ([]relay.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.boxes[identity]
	delete(m.boxes, identity)
	return msgs, nil
}

// natsBus delivers publishes synchronously to subscribers.
type natsBus struct {
	mu   sync.Mutex
	subs map[string]nats.MsgHandler
}

func newNATSBus() *natsBus { return &natsBus{subs: make(map[string]nats.MsgHandler)} }

func (b *natsBus) Publish(subj string, data []byte) error {
	b.mu.Lock()
	cb := b.subs[subj]
	b.mu.Unlock()
	if cb != nil {
		cb(&nats.Msg{Subject: subj, Data: append([]byte(nil), data...)})
	}
	return nil
}

func (b *natsBus) Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[subj] = cb
	return nil, nil
}

func (b *natsBus) subscribed(subj string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs[subj] != nil
}

type peerKeys struct {
	priv, pub []byte
}

func newPeerKeys(t *testing.T) peerKeys {
	t.Helper()
	priv, pub, err := encryption.Keygen()
	require.NoError(t, err)
	return peerKeys{priv, pub}
}
