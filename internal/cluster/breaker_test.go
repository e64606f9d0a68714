package cluster

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/alfredjeanlab/uinotify/internal/model"
)

type countingPublisher struct {
	calls atomic.Int32
	err   error
}

func (p *countingPublisher) Publish(context.Context, *model.Envelope) error {
	p.calls.Add(1)
	return p.err
}

func TestBreakerPublisher_PassesThrough(t *testing.T) {
	next := &countingPublisher{}
	p := NewBreakerPublisher(next, 3, time.Minute, discardLogger())
	for i := 0; i < 5; i++ {
		if err := p.Publish(context.Background(), testEnvelope("1", "n")); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if got := next.calls.Load(); got != 5 {
		t.Fatalf("calls = %d, want 5", got)
	}
	if p.State() != "closed" {
		t.Fatalf("state = %s, want closed", p.State())
	}
}

func TestBreakerPublisher_TripsAfterConsecutiveFailures(t *testing.T) {
	boom := errors.New("bus down")
	next := &countingPublisher{err: boom}
	p := NewBreakerPublisher(next, 3, time.Minute, discardLogger())

	for i := 0; i < 3; i++ {
		if err := p.Publish(context.Background(), testEnvelope("1", "n")); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: error = %v, want boom", i, err)
		}
	}
	err := p.Publish(context.Background(), testEnvelope("1", "n"))
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("error = %v, want ErrOpenState", err)
	}
	if got := next.calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
	if p.State() != "open" {
		t.Fatalf("state = %s, want open", p.State())
	}
}

func TestBreakerPublisher_RecoversAfterReset(t *testing.T) {
	next := &countingPublisher{err: errors.New("bus down")}
	p := NewBreakerPublisher(next, 1, 20*time.Millisecond, discardLogger())

	_ = p.Publish(context.Background(), testEnvelope("1", "n"))
	if p.State() != "open" {
		t.Fatalf("state = %s, want open", p.State())
	}

	time.Sleep(40 * time.Millisecond)
	next.err = nil
	if err := p.Publish(context.Background(), testEnvelope("2", "n")); err != nil {
		t.Fatalf("Publish after reset: %v", err)
	}
	if p.State() != "closed" {
		t.Fatalf("state = %s, want closed", p.State())
	}
}
