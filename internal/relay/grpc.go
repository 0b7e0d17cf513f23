package relay

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	serviceName   = "callsig.relay.v1.Relay"
	deliverMethod = "/" + serviceName + "/Deliver"
	fetchMethod   = "/" + serviceName + "/Fetch"
)

// Mailboxes is the storage the relay service runs on. RedisStore implements it.
type Mailboxes interface {
	Push(ctx context.Context, msg Message) error
	Drain(ctx context.Context, identity string) ([]Message, error)
	Touch(ctx context.Context, identity string) error
	Known(ctx context.Context, identity string) (bool, error)
}

// RelayServer is the server API of the relay service.
type RelayServer interface {
	Deliver(context.Context, *DeliverRequest) (*DeliverResponse, error)
	Fetch(context.Context, *FetchRequest) (*FetchResponse, error)
}

// Server stores messages for offline recipients and hands them out on Fetch.
type Server struct {
	cfg   *Config
	store Mailboxes
	now   func() time.Time
}

func NewServer(cfg *Config, store Mailboxes) *Server {
	return &Server{cfg: cfg, store: store, now: time.Now}
}

// Deliver stores one message in the recipient's mailbox. Unknown recipients
// are refused with NotFound and full mailboxes with ResourceExhausted.
func (s *Server) Deliver(ctx context.Context, req *DeliverRequest) (*DeliverResponse, error) {
	msg := req.Message
	switch {
	case msg.ID == uuid.Nil:
		return nil, status.Error(codes.InvalidArgument, "message id required")
	case msg.Sender == "" || msg.Recipient == "":
		return nil, status.Error(codes.InvalidArgument, "sender and recipient required")
	case len(msg.Payload) == 0:
		return nil, status.Error(codes.InvalidArgument, "empty payload")
	}

	if s.cfg.RequirePresence {
		known, err := s.store.Known(ctx, msg.Recipient)
		if err != nil {
			log.Error().Err(err).Msg("presence lookup failed")
			return nil, status.Error(codes.Internal, "presence lookup failed")
		}
		if !known {
			return nil, status.Errorf(codes.NotFound, "recipient %q is not reachable", msg.Recipient)
		}
	}

	msg.StoredAt = s.now()
	if err := s.store.Push(ctx, msg); err != nil {
		if errors.Is(err, ErrMailboxFull) {
			return nil, status.Errorf(codes.ResourceExhausted, "mailbox of %q is full", msg.Recipient)
		}
		log.Error().Err(err).Str("message_id", msg.ID.String()).Msg("store failed")
		return nil, status.Error(codes.Internal, "store failed")
	}

	log.Debug().
		Str("message_id", msg.ID.String()).
		Str("sender", msg.Sender).
		Str("recipient", msg.Recipient).
		Msg("message stored")
	return &DeliverResponse{StoredAt: msg.StoredAt}, nil
}

// Fetch refreshes the caller's presence and drains its mailbox.
func (s *Server) Fetch(ctx context.Context, req *FetchRequest) (*FetchResponse, error) {
	if req.Identity == "" {
		return nil, status.Error(codes.InvalidArgument, "identity required")
	}
	if err := s.store.Touch(ctx, req.Identity); err != nil {
		log.Error().Err(err).Msg("presence update failed")
		return nil, status.Error(codes.Internal, "presence update failed")
	}
	msgs, err := s.store.Drain(ctx, req.Identity)
	if err != nil {
		log.Error().Err(err).Msg("drain failed")
		return nil, status.Error(codes.Internal, "drain failed")
	}
	return &FetchResponse{Messages: msgs}, nil
}

// RegisterRelayServer attaches srv to s under the relay service name.
func RegisterRelayServer(s grpc.ServiceRegistrar, srv RelayServer) {
	s.RegisterService(&relayServiceDesc, srv)
}

var relayServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RelayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
		{MethodName: "Fetch", Handler: fetchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "callsig/relay/v1/relay",
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DeliverRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RelayServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RelayServer).Deliver(ctx, req.(*DeliverRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func fetchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FetchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RelayServer).Fetch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fetchMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RelayServer).Fetch(ctx, req.(*FetchRequest))
	}
	return interceptor(ctx, in, info, handler)
}
