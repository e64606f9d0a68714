package model

import "sort"

// Cursor tracks, per topic, the newest notification seen from each node. It
// turns poll results into the cursors of the next poll and filters out what
// was already delivered. A Cursor is not safe for concurrent use.
type Cursor struct {
	names []string
	last  map[string]map[string]Notification
}

// NewCursor returns a cursor for the given topics, none of them subscribed yet.
func NewCursor(topics ...string) *Cursor {
	c := &Cursor{last: make(map[string]map[string]Notification)}
	for _, name := range topics {
		c.track(name)
	}
	return c
}

func (c *Cursor) track(name string) map[string]Notification {
	byNode, ok := c.last[name]
	if !ok {
		byNode = make(map[string]Notification)
		c.last[name] = byNode
		c.names = append(c.names, name)
	}
	return byNode
}

// Topics returns the poll request topics, in the order they were added. The
// cursor entries of each topic are ordered by node id.
func (c *Cursor) Topics() []Topic {
	out := make([]Topic, 0, len(c.names))
	for _, name := range c.names {
		t := Topic{Name: name}
		for _, n := range c.last[name] {
			t.LastNotifications = append(t.LastNotifications, n)
		}
		sort.Slice(t.LastNotifications, func(i, j int) bool {
			return t.LastNotifications[i].NodeID < t.LastNotifications[j].NodeID
		})
		out = append(out, t)
	}
	return out
}

// Subscribed reports whether a poll already returned something for topic.
func (c *Cursor) Subscribed(topic string) bool {
	return len(c.last[topic]) > 0
}

// Advance records ns and returns the notifications not seen before, in
// order. Subscription start markers move the cursor but are never returned.
func (c *Cursor) Advance(ns []Notification) []Notification {
	var fresh []Notification
	for _, n := range ns {
		byNode := c.track(n.Topic)
		prev, seen := byNode[n.NodeID]
		if seen && !n.CreationTime.After(prev.CreationTime) {
			continue
		}
		if n.SubscriptionStart {
			byNode[n.NodeID] = n
			continue
		}
		// The "-1" marker only stands in for an empty topic.
		for node, m := range byNode {
			if m.IsSubscriptionStart() {
				delete(byNode, node)
			}
		}
		byNode[n.NodeID] = Notification{
			ID:           n.ID,
			Topic:        n.Topic,
			NodeID:       n.NodeID,
			CreationTime: n.CreationTime,
		}
		fresh = append(fresh, n)
	}
	return fresh
}
