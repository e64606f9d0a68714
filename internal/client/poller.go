package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/uinotify/internal/model"
)

// Handler receives each notification once, in the order the server returned
// them. Subscription start markers never reach a handler.
type Handler func(model.Notification)

// PollerOptions configures a Poller. The zero value is usable.
type PollerOptions struct {
	// Timeout is the long-poll timeout sent with each poll. Zero leaves it
	// to the server.
	Timeout time.Duration
	// MaxBackoff caps the delay between failed polls. Default 30s.
	MaxBackoff time.Duration
	Logger     *slog.Logger
}

// Poller long-polls a set of topics and keeps their cursors.
type Poller struct {
	client  NotificationClient
	cursor  *model.Cursor
	timeout time.Duration
	backoff *backoff.ExponentialBackOff
	logger  *slog.Logger
}

// NewPoller returns a poller for topics. Nothing is sent until PollOnce or
// Run is called.
func NewPoller(c NotificationClient, topics []string, opts *PollerOptions) *Poller {
	if opts == nil {
		opts = &PollerOptions{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	if opts.MaxBackoff > 0 {
		b.MaxInterval = opts.MaxBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		client:  c,
		cursor:  model.NewCursor(topics...),
		timeout: opts.Timeout,
		backoff: b,
		logger:  logger,
	}
}

// Topics returns the current cursors.
func (p *Poller) Topics() []model.Topic {
	return p.cursor.Topics()
}

// PollOnce performs one poll and returns the notifications not delivered
// before. The first poll of a topic only subscribes to it.
func (p *Poller) PollOnce(ctx context.Context) ([]model.Notification, error) {
	req := &model.PollRequest{Topics: p.cursor.Topics()}
	if p.timeout > 0 {
		ms := p.timeout.Milliseconds()
		req.TimeoutMs = &ms
	}
	resp, err := p.client.Poll(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.cursor.Advance(resp.Notifications), nil
}

// Run polls until ctx is done and passes every new notification to h.
// Temporary failures are retried with exponential backoff; any other error
// ends the loop.
func (p *Poller) Run(ctx context.Context, h Handler) error {
	for {
		fresh, err := p.PollOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if !retryable(err) {
				return err
			}
			wait := p.backoff.NextBackOff()
			p.logger.Warn("poll failed, retrying", "error", err, "in", wait)
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			continue
		}
		p.backoff.Reset()
		for _, n := range fresh {
			h(n)
		}
	}
}

// retryable reports whether err is worth another poll.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied, codes.Unimplemented:
			return false
		}
		return true
	}
	// Transport errors.
	return true
}
