package rpc

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/elho/borg/internal/config"
	"github.com/elho/borg/internal/repo"
)

// Client implements repo.Backend by issuing RPCs against a Server,
// letting anything written against repo.Backend run unmodified whether
// the repository is local or remote — the contract-equivalence goal the
// rest of this package exists to satisfy.
type Client struct {
	conn *grpc.ClientConn
}

var _ repo.Backend = (*Client)(nil)

// NewClient wraps an already-dialed connection. Dialing (TLS setup,
// retry policy, etc.) is left to the caller, same as the teacher's own
// replicator dials its peers itself.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) callOpts() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(gobCodecName)}
}

// Open is a no-op: the connection is already established by the caller's
// grpc.Dial, and the server's own backend owns create semantics. It
// exists only to satisfy repo.Backend.
func (c *Client) Open(ctx context.Context, create bool) error { return nil }

func (c *Client) Close(ctx context.Context) error {
	return c.conn.Close()
}

func (c *Client) Put(ctx context.Context, key repo.Key, payload []byte) error {
	out := new(PutResponse)
	err := c.conn.Invoke(ctx, "/"+serviceName+"/Put", &PutRequest{Key: key, Payload: payload}, out, c.callOpts()...)
	return fromStatusError(err)
}

func (c *Client) Get(ctx context.Context, key repo.Key) ([]byte, error) {
	out := new(GetResponse)
	err := c.conn.Invoke(ctx, "/"+serviceName+"/Get", &GetRequest{Key: key}, out, c.callOpts()...)
	if err != nil {
		return nil, fromStatusError(err)
	}
	return out.Payload, nil
}

func (c *Client) Delete(ctx context.Context, key repo.Key) error {
	out := new(DeleteResponse)
	err := c.conn.Invoke(ctx, "/"+serviceName+"/Delete", &DeleteRequest{Key: key}, out, c.callOpts()...)
	return fromStatusError(err)
}

func (c *Client) Commit(ctx context.Context) error {
	out := new(CommitResponse)
	err := c.conn.Invoke(ctx, "/"+serviceName+"/Commit", &CommitRequest{}, out, c.callOpts()...)
	return fromStatusError(err)
}

func (c *Client) Rollback(ctx context.Context) error {
	out := new(RollbackResponse)
	err := c.conn.Invoke(ctx, "/"+serviceName+"/Rollback", &RollbackRequest{}, out, c.callOpts()...)
	return fromStatusError(err)
}

func (c *Client) Check(ctx context.Context, opts repo.CheckOptions) (repo.CheckReport, error) {
	out := new(CheckResponse)
	err := c.conn.Invoke(ctx, "/"+serviceName+"/Check", &CheckRequest{Repair: opts.Repair}, out, c.callOpts()...)
	if err != nil {
		return repo.CheckReport{}, fromStatusError(err)
	}
	return out.Report, nil
}

func (c *Client) Iterate(ctx context.Context, fn func(key repo.Key) bool) error {
	desc := &grpc.StreamDesc{StreamName: "Iterate", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, "/"+serviceName+"/Iterate", c.callOpts()...)
	if err != nil {
		return fromStatusError(err)
	}
	if err := stream.SendMsg(&IterateRequest{}); err != nil {
		return fromStatusError(err)
	}
	if err := stream.CloseSend(); err != nil {
		return fromStatusError(err)
	}
	for {
		resp := new(IterateResponse)
		err := stream.RecvMsg(resp)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fromStatusError(err)
		}
		if !fn(resp.Key) {
			return nil
		}
	}
}

// Dial creates a grpc client connection to target with opts and wraps
// it in a Client. Every Client method adds the gob-codec call option
// itself, whichever way the connection was made.
func Dial(ctx context.Context, target string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", target, err)
	}
	return NewClient(conn), nil
}

// DialTLS dials target using the certificate/CA material described by
// tlsCfg, built through config.SetupTLSConfig the same way the teacher's
// CLI configures its replicator connections, instead of leaving transport
// credentials entirely to the caller.
func DialTLS(ctx context.Context, target string, tlsCfg config.TLSConfig, opts ...grpc.DialOption) (*Client, error) {
	tc, err := config.SetupTLSConfig(tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("rpc: setup tls: %w", err)
	}
	opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tc)))
	return Dial(ctx, target, opts...)
}
