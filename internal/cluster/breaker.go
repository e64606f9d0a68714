package cluster

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/alfredjeanlab/uinotify/internal/model"
)

// BreakerPublisher stops calling a failing publisher for a while so puts do
// not wait on a bus that is down.
type BreakerPublisher struct {
	next    Publisher
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerPublisher trips after failures consecutive errors and probes next
// again after reset.
func NewBreakerPublisher(next Publisher, failures int, reset time.Duration, logger *slog.Logger) *BreakerPublisher {
	if failures < 1 {
		failures = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerPublisher{
		next: next,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "cluster-publish",
			MaxRequests: 1,
			Interval:    0,
			Timeout:     reset,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(failures)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("cluster: circuit breaker state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		}),
	}
}

// Publish returns gobreaker.ErrOpenState without calling next while the
// breaker is open.
func (p *BreakerPublisher) Publish(ctx context.Context, env *model.Envelope) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.next.Publish(ctx, env)
	})
	return err
}

// State reports the breaker state, for health output.
func (p *BreakerPublisher) State() string {
	return p.breaker.State().String()
}
