package model

// Topic is a subscription request for one topic. LastNotifications is the
// client's cursor: the last notification it has seen from each cluster node.
// An empty cursor means the client never subscribed to the topic.
type Topic struct {
	Name              string         `json:"name"`
	LastNotifications []Notification `json:"lastNotifications,omitempty"`
}

// TopicNames returns the names of the given topics, in order.
func TopicNames(topics []Topic) []string {
	names := make([]string, 0, len(topics))
	for _, t := range topics {
		names = append(names, t.Name)
	}
	return names
}
