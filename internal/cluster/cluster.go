// Package cluster fans notifications out to the other nodes of a deployment
// and feeds the ones they produce back into the local registry.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/uinotify/internal/model"
)

// DefaultSubject is the NATS subject and Postgres channel used when none is configured.
const DefaultSubject = "uinotify.cluster"

// Publisher forwards a locally created envelope to the other nodes.
type Publisher interface {
	Publish(ctx context.Context, env *model.Envelope) error
}

// Handler receives envelopes created by other nodes.
type Handler interface {
	HandleClusterNotification(ctx context.Context, env *model.Envelope)
}

// Bus is a Publisher that also delivers the messages of other nodes.
type Bus interface {
	Publisher
	// Start delivers envelopes of other nodes to h until ctx is done or
	// Close is called.
	Start(ctx context.Context, h Handler) error
	Close() error
}

func encode(env *model.Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*model.Envelope, error) {
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}
	if env.Notification.Topic == "" || env.Notification.NodeID == "" {
		return nil, fmt.Errorf("envelope %q lacks topic or node", env.Notification.ID)
	}
	return &env, nil
}
