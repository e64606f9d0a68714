package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/uinotify/internal/model"
)

func newTestRegistry(t *testing.T, cfg *Config) *Registry {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	r := New("test-node", cfg)
	t.Cleanup(r.Close)
	return r
}

// fakeClock is a settable clock for Config.Now.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func payload(v string) json.RawMessage {
	return json.RawMessage(`{"dummy":"` + v + `"}`)
}

func put(t *testing.T, r *Registry, topic, user, value string) {
	t.Helper()
	if err := r.Put(context.Background(), topic, user, payload(value), NoTransaction()); err != nil {
		t.Fatalf("Put(%q): %v", topic, err)
	}
}

// newest returns the notification inserted last into topic.
func newest(t *testing.T, r *Registry, topic string) model.Notification {
	t.Helper()
	r.mu.RLock()
	defer r.mu.RUnlock()
	q := r.queues[topic]
	if len(q) == 0 {
		t.Fatalf("topic %q is empty", topic)
	}
	return q[len(q)-1].Notification
}

// stored returns a pointer to the i-th stored notification of topic so tests
// can rewrite node ids and times.
func stored(t *testing.T, r *Registry, topic string, i int) *model.Notification {
	t.Helper()
	r.mu.RLock()
	defer r.mu.RUnlock()
	q := r.queues[topic]
	if i >= len(q) {
		t.Fatalf("topic %q has %d notifications, want index %d", topic, len(q), i)
	}
	return &q[i].Notification
}

func cursor(name string, last ...model.Notification) model.Topic {
	return model.Topic{Name: name, LastNotifications: last}
}

// getAll builds a cursor holding only the synthetic marker.
func getAll(r *Registry, name string) model.Topic {
	return cursor(name, model.NewSubscriptionStart(name, r.NodeID()))
}

func initial(r *Registry, topic string) model.Notification {
	return model.NewSubscriptionStart(topic, r.NodeID())
}

func assertNotifications(t *testing.T, got []model.Notification, want ...model.Notification) {
	t.Helper()
	if want == nil {
		want = []model.Notification{}
	}
	if got == nil {
		t.Fatalf("got nil, want %d notifications", len(want))
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("notifications mismatch\n got: %+v\nwant: %+v", got, want)
	}
}

func receive(t *testing.T, ch <-chan []model.Notification) []model.Notification {
	t.Helper()
	select {
	case ns := <-ch:
		return ns
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return nil
	}
}

func assertPending(t *testing.T, ch <-chan []model.Notification) {
	t.Helper()
	select {
	case ns := <-ch:
		t.Fatalf("expected pending wait, got %+v", ns)
	default:
	}
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		panic(err)
	}
	return t
}
