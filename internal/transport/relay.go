package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dense-identity/callsig/internal/relay"
	"github.com/dense-identity/callsig/internal/signaling"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Mailbox is the relay API the transport uses. *relay.Client implements it.
type Mailbox interface {
	Deliver(ctx context.Context, msg relay.Message) (time.Time, error)
	Fetch(ctx context.Context, identity string) ([]relay.Message, error)
}

// Relay carries signaling through a store-and-forward relay. Outbound
// messages go straight to the relay; inbound ones are polled.
type Relay struct {
	*endpoint
	mailbox  Mailbox
	interval time.Duration
}

func NewRelay(self Identity, keys Keys, mailbox Mailbox, interval time.Duration, logger zerolog.Logger) (*Relay, error) {
	if mailbox == nil {
		return nil, errors.New("transport: mailbox required")
	}
	if interval <= 0 {
		interval = time.Second
	}
	ep, err := newEndpoint(self, keys, logger.With().Str("carrier", "relay").Logger())
	if err != nil {
		return nil, err
	}
	return &Relay{endpoint: ep, mailbox: mailbox, interval: interval}, nil
}

// Attach sets the receiver of inbound traffic.
func (r *Relay) Attach(h Handler) { r.attach(h) }

// Send seals msg for peer and stores it in peer's mailbox. A refusal by the
// relay marks id as rejected.
func (r *Relay) Send(ctx context.Context, peer string, id uuid.UUID, msg signaling.Message) error {
	payload, err := r.seal(peer, id, msg)
	if err != nil {
		r.markRejected(id)
		return fmt.Errorf("seal for %s: %w", peer, err)
	}
	return r.deliver(ctx, peer, id, payload)
}

func (r *Relay) deliver(ctx context.Context, peer string, id uuid.UUID, payload []byte) error {
	_, err := r.mailbox.Deliver(ctx, relay.Message{
		ID:        id,
		Sender:    r.self.Name,
		Recipient: peer,
		Payload:   payload,
	})
	if err != nil {
		switch status.Code(err) {
		case codes.NotFound, codes.ResourceExhausted, codes.InvalidArgument:
			r.markRejected(id)
		}
		return fmt.Errorf("deliver to %s: %w", peer, err)
	}
	return nil
}

// Poll fetches and dispatches everything waiting in our mailbox once.
func (r *Relay) Poll(ctx context.Context) error {
	msgs, err := r.mailbox.Fetch(ctx, r.self.Name)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	for _, m := range msgs {
		peer, receipt := r.receive(ctx, m.Sender, m.Payload)
		if receipt == nil {
			continue
		}
		if err := r.deliver(ctx, peer, uuid.New(), receipt); err != nil {
			r.logger.Warn().Err(err).Str("peer", peer).Msg("failed to send rejection receipt")
		}
	}
	return nil
}

// Run polls until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Poll(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("relay poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
