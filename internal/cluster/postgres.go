package cluster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/uinotify/internal/model"
)

// MaxNotifyPayload is the largest payload pg_notify accepts.
const MaxNotifyPayload = 7999

// ErrPayloadTooLarge is returned when an envelope does not fit into a
// Postgres notification.
var ErrPayloadTooLarge = errors.New("cluster: envelope exceeds pg_notify payload limit")

// listener is the subset of *pq.Listener the bus relies on.
type listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// PGBus exchanges envelopes through Postgres LISTEN/NOTIFY.
type PGBus struct {
	db      *sql.DB
	channel string
	nodeID  string
	logger  *slog.Logger

	newListener  func() listener
	pingInterval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewPGBus publishes through db and listens on a dedicated connection to
// databaseURL. nodeID is the id the local registry stamps on its
// notifications; messages carrying it are ignored on receipt.
func NewPGBus(db *sql.DB, databaseURL, channel, nodeID string, logger *slog.Logger) *PGBus {
	if channel == "" {
		channel = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &PGBus{
		db:           db,
		channel:      channel,
		nodeID:       nodeID,
		logger:       logger,
		pingInterval: 90 * time.Second,
	}
	b.newListener = func() listener {
		return pq.NewListener(databaseURL, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Warn("cluster: postgres listener event", "event", ev, "err", err)
			}
		})
	}
	return b
}

func (b *PGBus) Publish(ctx context.Context, env *model.Envelope) error {
	data, err := encode(env)
	if err != nil {
		return err
	}
	if len(data) > MaxNotifyPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(data))
	}
	if _, err := b.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", b.channel, string(data)); err != nil {
		return fmt.Errorf("pg_notify on %s: %w", b.channel, err)
	}
	return nil
}

// Start issues LISTEN and delivers notifications of other nodes to h from a
// background goroutine.
func (b *PGBus) Start(ctx context.Context, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stop != nil {
		return fmt.Errorf("cluster: postgres bus already started")
	}

	l := b.newListener()
	if err := l.Listen(b.channel); err != nil {
		_ = l.Close()
		return fmt.Errorf("listen on %s: %w", b.channel, err)
	}

	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.loop(ctx, l, h, b.stop, b.done)
	b.logger.Info("cluster: postgres bus started", "channel", b.channel)
	return nil
}

func (b *PGBus) loop(ctx context.Context, l listener, h Handler, stop, done chan struct{}) {
	defer close(done)
	defer l.Close()

	ticker := time.NewTicker(b.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			go func() {
				if err := l.Ping(); err != nil {
					b.logger.Warn("cluster: postgres listener ping failed", "err", err)
				}
			}()
		case n, ok := <-l.NotificationChannel():
			if !ok {
				return
			}
			if n == nil {
				// Connection was re-established; notifications sent meanwhile are lost.
				b.logger.Warn("cluster: postgres listener reconnected")
				continue
			}
			env, err := decode([]byte(n.Extra))
			if err != nil {
				b.logger.Warn("cluster: bad postgres notification", "channel", n.Channel, "err", err)
				continue
			}
			if env.Notification.NodeID == b.nodeID {
				continue
			}
			h.HandleClusterNotification(ctx, env)
		}
	}
}

// Close stops the listener. The *sql.DB is owned by the caller.
func (b *PGBus) Close() error {
	b.mu.Lock()
	stop, done := b.stop, b.done
	b.stop, b.done = nil, nil
	b.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}
