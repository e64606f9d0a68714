package cluster

import (
	"context"

	"github.com/alfredjeanlab/uinotify/internal/model"
)

// NoopBus is a Bus that does nothing (used when no cluster transport is configured).
type NoopBus struct{}

func (NoopBus) Publish(context.Context, *model.Envelope) error { return nil }

func (NoopBus) Start(context.Context, Handler) error { return nil }

func (NoopBus) Close() error { return nil }
