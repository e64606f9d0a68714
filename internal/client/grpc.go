package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/uinotify/internal/model"
	"github.com/alfredjeanlab/uinotify/internal/registry"
	"github.com/alfredjeanlab/uinotify/internal/server"
)

// GRPCClient implements NotificationClient over the gRPC transport.
type GRPCClient struct {
	conn  *grpc.ClientConn
	token string
	user  string
}

// NewGRPCClient connects to addr. Extra dial options are appended after the
// insecure transport credentials.
func NewGRPCClient(addr, token, user string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{conn: conn, token: token, user: user}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) Poll(ctx context.Context, req *model.PollRequest) (*model.PollResponse, error) {
	var resp model.PollResponse
	if err := c.invoke(ctx, "Poll", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GRPCClient) Get(ctx context.Context, req *model.PollRequest) (*model.PollResponse, error) {
	var resp model.PollResponse
	if err := c.invoke(ctx, "Get", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GRPCClient) Put(ctx context.Context, req *model.PutRequest) (*model.PutResponse, error) {
	var resp model.PutResponse
	if err := c.invoke(ctx, "Put", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GRPCClient) PutBatch(ctx context.Context, req *model.BatchPutRequest) (*model.PutResponse, error) {
	var resp model.PutResponse
	if err := c.invoke(ctx, "PutBatch", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GRPCClient) Delay(ctx context.Context, topic string) (*model.DelayResponse, error) {
	var resp model.DelayResponse
	if err := c.invoke(ctx, "Delay", server.DelayRequest{Topic: topic}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GRPCClient) Stats(ctx context.Context) (*registry.Stats, error) {
	var resp registry.Stats
	if err := c.invoke(ctx, "Stats", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GRPCClient) Health(ctx context.Context) (*model.HealthResponse, error) {
	var resp model.HealthResponse
	if err := c.invoke(ctx, "Health", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GRPCClient) invoke(ctx context.Context, method string, req, result any) error {
	in, err := server.ToStruct(req)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	if c.user != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-user", c.user)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+server.ServiceName+"/"+method, in, out); err != nil {
		return err
	}
	if err := server.FromStruct(out, result); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	return nil
}
