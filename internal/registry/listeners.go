package registry

import "github.com/alfredjeanlab/uinotify/internal/model"

// Listener is notified after a notification was added to a topic it listens
// on. Implementations must be comparable; pointer receivers are the norm.
// NotificationAdded runs on the goroutine of the Put that added n, after the
// backlog lock is released.
type Listener interface {
	NotificationAdded(n model.Notification)
}

// ListenerFunc adapts a function to Listener. Being a func it is not
// comparable, so register it through a pointer.
type ListenerFunc func(n model.Notification)

func (f *ListenerFunc) NotificationAdded(n model.Notification) { (*f)(n) }

// AddListener registers l for topic.
func (r *Registry) AddListener(topic string, l Listener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	set, ok := r.listeners[topic]
	if !ok {
		set = make(map[Listener]struct{})
		r.listeners[topic] = set
	}
	set[l] = struct{}{}
}

// RemoveListener unregisters l from topic. The topic entry is dropped once no
// listener remains.
func (r *Registry) RemoveListener(topic string, l Listener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	set, ok := r.listeners[topic]
	if !ok {
		return
	}
	delete(set, l)
	if len(set) == 0 {
		delete(r.listeners, topic)
	}
}

// ListenerCount returns how many listeners wait on topic. Listeners are
// transient: a count of zero does not mean nobody is subscribed, only that no
// poll is parked right now.
func (r *Registry) ListenerCount(topic string) int {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	return len(r.listeners[topic])
}

func (r *Registry) addListeners(topics []string, l Listener) {
	for _, t := range topics {
		r.AddListener(t, l)
	}
}

func (r *Registry) removeListeners(topics []string, l Listener) {
	for _, t := range topics {
		r.RemoveListener(t, l)
	}
}

func (r *Registry) allListeners() []Listener {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	seen := make(map[Listener]struct{})
	var out []Listener
	for _, set := range r.listeners {
		for l := range set {
			if _, ok := seen[l]; ok {
				continue
			}
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	return out
}

// trigger calls the listeners of topic. The set is copied first so listeners
// may unregister themselves.
func (r *Registry) trigger(topic string, n model.Notification) {
	r.listenersMu.Lock()
	set := r.listeners[topic]
	ls := make([]Listener, 0, len(set))
	for l := range set {
		ls = append(ls, l)
	}
	r.listenersMu.Unlock()

	for _, l := range ls {
		l.NotificationAdded(n)
	}
}
