package relay

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// Client owns the gRPC connection to a relay.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to addr with TLS (system roots) or plaintext.
func Dial(addr string, useTLS bool, extraOpts ...grpc.DialOption) (*Client, error) {
	var creds grpc.DialOption
	if useTLS {
		creds = grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")) // system roots
	} else {
		creds = grpc.WithTransportCredentials(insecure.NewCredentials())
	}

	kacp := keepalive.ClientParameters{
		Time:                30 * time.Second, // send pings every 30s if idle
		Timeout:             10 * time.Second, // wait 10s for ping ack
		PermitWithoutStream: true,             // keepalive even with no active RPCs
	}

	opts := []grpc.DialOption{
		creds,
		grpc.WithKeepaliveParams(kacp),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(codecName),
			grpc.MaxCallRecvMsgSize(4*1024*1024),
			grpc.MaxCallSendMsgSize(4*1024*1024),
		),
	}
	opts = append(opts, extraOpts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Deliver(ctx context.Context, msg Message) (time.Time, error) {
	out := new(DeliverResponse)
	if err := c.conn.Invoke(ctx, deliverMethod, &DeliverRequest{Message: msg}, out); err != nil {
		return time.Time{}, err
	}
	return out.StoredAt, nil
}

func (c *Client) Fetch(ctx context.Context, identity string) ([]Message, error) {
	out := new(FetchResponse)
	if err := c.conn.Invoke(ctx, fetchMethod, &FetchRequest{Identity: identity}, out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
