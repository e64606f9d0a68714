// Package client talks to a uinotify server over HTTP or gRPC and keeps the
// poll cursors of a subscriber.
package client

import (
	"context"

	"github.com/alfredjeanlab/uinotify/internal/model"
	"github.com/alfredjeanlab/uinotify/internal/registry"
)

// NotificationClient is implemented by HTTPClient and GRPCClient. Polls are
// made on behalf of the user the client was created for.
type NotificationClient interface {
	Poll(ctx context.Context, req *model.PollRequest) (*model.PollResponse, error)
	Get(ctx context.Context, req *model.PollRequest) (*model.PollResponse, error)
	Put(ctx context.Context, req *model.PutRequest) (*model.PutResponse, error)
	PutBatch(ctx context.Context, req *model.BatchPutRequest) (*model.PutResponse, error)
	Delay(ctx context.Context, topic string) (*model.DelayResponse, error)
	Stats(ctx context.Context) (*registry.Stats, error)
	Health(ctx context.Context) (*model.HealthResponse, error)
	Close() error
}
