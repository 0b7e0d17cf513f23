package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dense-identity/callsig/internal/helpers"
	"github.com/dense-identity/callsig/internal/signaling"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds the connection settings for the NATS carrier.
type NATSConfig struct {
	URL             string
	CredentialsFile string
	ReconnectWait   time.Duration
	MaxReconnects   int
}

// ConnectNATS dials a NATS server with reconnect logging.
func ConnectNATS(cfg NATSConfig) (*nats.Conn, error) {
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	opts := []nats.Option{
		nats.Name("callsig"),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	}

	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err == nil {
			opts = append(opts, nats.UserCredentials(cfg.CredentialsFile))
		}
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// Subject is the inbox subject of identity.
func Subject(identity string) string {
	return "callsig.inbox." + helpers.Hash256Hex([]byte(identity))
}

// NATSConn is the part of *nats.Conn the transport uses.
type NATSConn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// NATS carries signaling over NATS subjects. Delivery is best effort: only
// local publish failures and peer receipts mark a message rejected.
type NATS struct {
	*endpoint
	conn  NATSConn
	inbox chan *nats.Msg
}

func NewNATS(self Identity, keys Keys, conn NATSConn, buffer int, logger zerolog.Logger) (*NATS, error) {
	if conn == nil {
		return nil, errors.New("transport: NATS connection required")
	}
	if buffer <= 0 {
		buffer = 64
	}
	ep, err := newEndpoint(self, keys, logger.With().Str("carrier", "nats").Logger())
	if err != nil {
		return nil, err
	}
	return &NATS{endpoint: ep, conn: conn, inbox: make(chan *nats.Msg, buffer)}, nil
}

// Attach sets the receiver of inbound traffic.
func (n *NATS) Attach(h Handler) { n.attach(h) }

func (n *NATS) Send(ctx context.Context, peer string, id uuid.UUID, msg signaling.Message) error {
	payload, err := n.seal(peer, id, msg)
	if err != nil {
		n.markRejected(id)
		return fmt.Errorf("seal for %s: %w", peer, err)
	}
	if err := n.conn.Publish(Subject(peer), payload); err != nil {
		n.markRejected(id)
		return fmt.Errorf("publish to %s: %w", peer, err)
	}
	return nil
}

// Run subscribes to our inbox and dispatches until ctx is done.
func (n *NATS) Run(ctx context.Context) error {
	subject := Subject(n.self.Name)
	sub, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		select {
		case n.inbox <- msg:
		default:
			n.logger.Warn().Str("subject", msg.Subject).Msg("inbox full, dropping message")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	if sub != nil {
		defer func() { _ = sub.Unsubscribe() }()
	}
	n.logger.Debug().Str("subject", subject).Msg("subscribed to NATS")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-n.inbox:
			peer, receipt := n.receive(ctx, "", msg.Data)
			if receipt == nil {
				continue
			}
			if err := n.conn.Publish(Subject(peer), receipt); err != nil {
				n.logger.Warn().Err(err).Str("peer", peer).Msg("failed to send rejection receipt")
			}
		}
	}
}
