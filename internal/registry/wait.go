package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/uinotify/internal/model"
)

// WaitTimeout returns the configured default wait timeout.
func (r *Registry) WaitTimeout() time.Duration {
	return r.wait
}

// GetOrWaitDefault is GetOrWait with the configured wait timeout.
func (r *Registry) GetOrWaitDefault(ctx context.Context, topics []model.Topic, user string) <-chan []model.Notification {
	return r.GetOrWait(ctx, topics, user, r.wait)
}

// GetOrWait returns a channel that receives exactly one result. If Get has
// something to return, or timeout is not positive, the channel is resolved
// immediately. Otherwise the call parks a waiter on every requested topic
// until a matching notification arrives, timeout elapses or ctx is done; the
// last two resolve with an empty list. The waiter is unregistered before the
// result is sent.
func (r *Registry) GetOrWait(ctx context.Context, topics []model.Topic, user string, timeout time.Duration) <-chan []model.Notification {
	names := model.TopicNames(topics)
	result := make(chan []model.Notification, 1)

	if ns := r.Get(topics, user); len(ns) > 0 || timeout <= 0 {
		r.logger.Debug("registry: returning without waiting", "topics", names, "user", user, "count", len(ns))
		result <- ns
		close(result)
		return result
	}

	w := &waiter{
		r:      r,
		topics: topics,
		names:  names,
		user:   user,
		result: result,
	}
	r.addListeners(names, w)

	// A put may have landed between the first Get and the registration.
	if ns := r.Get(topics, user); len(ns) > 0 {
		w.resolve(ns, "notification")
		return result
	}

	r.logger.Debug("registry: waiting for notifications", "topics", names, "user", user, "timeout", timeout)
	w.arm(ctx, timeout)
	return result
}

// waiter is the listener behind one parked GetOrWait call.
type waiter struct {
	r      *Registry
	topics []model.Topic
	names  []string
	user   string
	result chan []model.Notification

	resolved atomic.Bool

	mu      sync.Mutex
	timer   *time.Timer
	stopCtx func() bool
}

func (w *waiter) NotificationAdded(model.Notification) {
	if w.resolved.Load() {
		return
	}
	ns := w.r.Get(w.topics, w.user)
	if len(ns) == 0 {
		return
	}
	w.resolve(ns, "notification")
}

func (w *waiter) arm(ctx context.Context, timeout time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.resolved.Load() {
		return
	}
	w.timer = time.AfterFunc(timeout, func() { w.resolve(nil, "timeout") })
	w.stopCtx = context.AfterFunc(ctx, func() { w.resolve(nil, "canceled") })
}

// resolve delivers ns unless another path got there first.
func (w *waiter) resolve(ns []model.Notification, reason string) bool {
	if !w.resolved.CompareAndSwap(false, true) {
		return false
	}
	w.r.removeListeners(w.names, w)

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	if w.stopCtx != nil {
		w.stopCtx()
	}
	w.mu.Unlock()

	if ns == nil {
		ns = []model.Notification{}
	}
	w.r.logger.Debug("registry: wait resolved", "topics", w.names, "user", w.user, "reason", reason, "count", len(ns))
	w.result <- ns
	close(w.result)
	return true
}
