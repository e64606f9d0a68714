package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/uinotify/internal/model"
)

// scriptedClient answers polls from a script and records the requests.
type scriptedClient struct {
	NotificationClient

	mu       sync.Mutex
	requests []*model.PollRequest
	script   []func() (*model.PollResponse, error)
}

func (c *scriptedClient) Poll(ctx context.Context, req *model.PollRequest) (*model.PollResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	if len(c.script) == 0 {
		c.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	next := c.script[0]
	c.script = c.script[1:]
	c.mu.Unlock()
	return next()
}

func respond(ns ...model.Notification) func() (*model.PollResponse, error) {
	return func() (*model.PollResponse, error) { return &model.PollResponse{Notifications: ns}, nil }
}

func fail(err error) func() (*model.PollResponse, error) {
	return func() (*model.PollResponse, error) { return nil, err }
}

func n(id, node string, ms int64) model.Notification {
	return model.Notification{ID: id, Topic: "chat", NodeID: node, CreationTime: time.UnixMilli(ms).UTC()}
}

func quietOptions() *PollerOptions {
	return &PollerOptions{MaxBackoff: time.Millisecond, Logger: slog.New(slog.DiscardHandler)}
}

func TestPoller_RunDeliversOnceAndSkipsMarkers(t *testing.T) {
	c := &scriptedClient{script: []func() (*model.PollResponse, error){
		respond(n("5", "a", 5).AsSubscriptionStart()),
		respond(n("6", "a", 6), n("1", "b", 1)),
		respond(n("6", "a", 6), n("7", "a", 7)),
	}}
	p := NewPoller(c, []string{"chat"}, quietOptions())

	ctx, cancel := context.WithCancel(context.Background())
	var got []string
	err := p.Run(ctx, func(n model.Notification) {
		got = append(got, n.NodeID+"/"+n.ID)
		if len(got) == 3 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	want := []string{"a/6", "b/1", "a/7"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if first := c.requests[0].Topics[0]; len(first.LastNotifications) != 0 {
		t.Fatalf("first poll should carry an empty cursor, got %+v", first)
	}
	if second := c.requests[1].Topics[0].LastNotifications; len(second) != 1 || second[0].ID != "5" {
		t.Fatalf("second poll should carry the marker, got %+v", second)
	}
}

func TestPoller_RetriesTemporaryErrors(t *testing.T) {
	c := &scriptedClient{script: []func() (*model.PollResponse, error){
		fail(&APIError{StatusCode: http.StatusTooManyRequests, Message: "rate limit exceeded"}),
		fail(status.Error(codes.Unavailable, "down")),
		fail(errors.New("connection refused")),
		respond(n("1", "a", 1)),
	}}
	p := NewPoller(c, []string{"chat"}, quietOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got int
	err := p.Run(ctx, func(model.Notification) {
		got++
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got != 1 {
		t.Fatalf("expected 1 delivery, got %d", got)
	}
}

func TestPoller_StopsOnPermanentErrors(t *testing.T) {
	for _, perm := range []error{
		&APIError{StatusCode: http.StatusBadRequest, Message: "topics must not be empty"},
		status.Error(codes.Unauthenticated, "invalid token"),
	} {
		c := &scriptedClient{script: []func() (*model.PollResponse, error){fail(perm)}}
		err := NewPoller(c, []string{"chat"}, quietOptions()).Run(context.Background(), func(model.Notification) {})
		if !errors.Is(err, perm) {
			t.Fatalf("expected %v, got %v", perm, err)
		}
	}
}

func TestPoller_SendsTimeout(t *testing.T) {
	c := &scriptedClient{script: []func() (*model.PollResponse, error){respond()}}
	p := NewPoller(c, []string{"chat"}, &PollerOptions{Timeout: 2 * time.Second})
	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if got := c.requests[0].TimeoutMs; got == nil || *got != 2000 {
		t.Fatalf("expected timeoutMs 2000, got %v", got)
	}

	c = &scriptedClient{script: []func() (*model.PollResponse, error){respond()}}
	if _, err := NewPoller(c, []string{"chat"}, nil).PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if c.requests[0].TimeoutMs != nil {
		t.Fatal("expected no timeout without options")
	}
}

// TestPoller_NoGapsAcrossPolls runs a real registry and checks that a
// subscriber sees every notification exactly once while puts race polls.
func TestPoller_NoGapsAcrossPolls(t *testing.T) {
	h, _ := newLiveServer(t)
	c := newTestClient(t, h, "", "")
	p := NewPoller(c, []string{"chat"}, &PollerOptions{Timeout: 50 * time.Millisecond, Logger: slog.New(slog.DiscardHandler)})
	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	const total = 50
	go func() {
		for range total {
			_, _ = c.Put(context.Background(), &model.PutRequest{Topic: "chat"})
		}
	}()

	seen := make(map[string]bool)
	deadline := time.Now().Add(10 * time.Second)
	for len(seen) < total && time.Now().Before(deadline) {
		fresh, err := p.PollOnce(context.Background())
		if err != nil {
			t.Fatalf("PollOnce: %v", err)
		}
		for _, n := range fresh {
			if seen[n.ID] {
				t.Fatalf("notification %s delivered twice", n.ID)
			}
			seen[n.ID] = true
		}
	}
	if len(seen) != total {
		t.Fatalf("expected %d notifications, got %d", total, len(seen))
	}
}

var _ NotificationClient = (*HTTPClient)(nil)
var _ NotificationClient = (*GRPCClient)(nil)
