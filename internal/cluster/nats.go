package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/uinotify/internal/model"
)

// NATSBus exchanges envelopes over a single NATS subject.
type NATSBus struct {
	conn    *nats.Conn
	subject string
	nodeID  string
	logger  *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewNATSBus connects to NATS with automatic reconnection. nodeID is the id
// the local registry stamps on its notifications; messages carrying it are
// ignored on receipt. Extra nats.Option values are appended to the defaults.
func NewNATSBus(url, subject, nodeID string, logger *slog.Logger, opts ...nats.Option) (*NATSBus, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	defaults := []nats.Option{
		nats.Name("uinotify " + nodeID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("cluster: NATS disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("cluster: NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSBus{conn: nc, subject: subject, nodeID: nodeID, logger: logger}, nil
}

func (b *NATSBus) Publish(_ context.Context, env *model.Envelope) error {
	data, err := encode(env)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", b.subject, err)
	}
	return nil
}

// Start subscribes to the subject. NATS invokes the callback sequentially per
// subscription, so envelopes of one node arrive in publish order.
func (b *NATSBus) Start(ctx context.Context, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return fmt.Errorf("cluster: NATS bus already started")
	}

	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		env, err := decode(msg.Data)
		if err != nil {
			b.logger.Warn("cluster: bad NATS message", "subject", msg.Subject, "err", err)
			return
		}
		if env.Notification.NodeID == b.nodeID {
			return
		}
		h.HandleClusterNotification(ctx, env)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", b.subject, err)
	}
	// Flush ensures the subscription is registered on the server before
	// returning, so that messages published on other connections are routed.
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flushing subscription: %w", err)
	}
	b.sub = sub

	context.AfterFunc(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.sub == sub {
			_ = sub.Unsubscribe()
			b.sub = nil
		}
	})
	b.logger.Info("cluster: NATS bus started", "subject", b.subject)
	return nil
}

// Flush waits until the server processed everything published so far.
func (b *NATSBus) Flush() error {
	return b.conn.Flush()
}

func (b *NATSBus) Close() error {
	b.mu.Lock()
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
		b.sub = nil
	}
	b.mu.Unlock()
	b.conn.Close()
	return nil
}
