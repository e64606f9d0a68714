package registry

import (
	"time"

	"github.com/alfredjeanlab/uinotify/internal/model"
)

// reconcile selects what a subscriber holding cursor still has to receive
// from the backlog of one topic.
//
// An empty cursor subscribes: the caller receives one payload-less marker per
// node, a copy of that node's last visible notification, or the synthetic
// "-1" marker when nothing is visible. A cursor that is only the synthetic
// marker asks for the whole visible backlog. Any other cursor returns, per
// node, the notifications created strictly after the cursor entry of that
// node; nodes missing from the cursor return everything they hold.
func reconcile(topic string, backlog []*model.Envelope, user string, cursor []model.Notification, localNodeID string) []model.Notification {
	visible := make([]model.Notification, 0, len(backlog))
	for _, env := range backlog {
		if env.VisibleTo(user) {
			visible = append(visible, env.Notification)
		}
	}

	if len(cursor) == 0 {
		return subscriptionStart(topic, visible, localNodeID)
	}

	if len(cursor) == 1 && cursor[0].IsSubscriptionStart() {
		return visible
	}

	since := make(map[string]time.Time, len(cursor))
	for _, c := range cursor {
		if t, ok := since[c.NodeID]; !ok || c.CreationTime.After(t) {
			since[c.NodeID] = c.CreationTime
		}
	}

	out := make([]model.Notification, 0)
	for _, n := range visible {
		t, ok := since[n.NodeID]
		if !ok || n.CreationTime.After(t) {
			out = append(out, n)
		}
	}
	return out
}

// subscriptionStart returns the last visible notification of every node as
// marker, in the order those notifications were inserted.
func subscriptionStart(topic string, visible []model.Notification, localNodeID string) []model.Notification {
	if len(visible) == 0 {
		return []model.Notification{model.NewSubscriptionStart(topic, localNodeID)}
	}

	last := make(map[string]int)
	for i, n := range visible {
		last[n.NodeID] = i
	}

	out := make([]model.Notification, 0, len(last))
	for i, n := range visible {
		if last[n.NodeID] == i {
			out = append(out, n.AsSubscriptionStart())
		}
	}
	return out
}
