package model

import (
	"encoding/json"
	"time"
)

// SubscriptionStartID is the id of the synthetic marker handed to a subscriber
// of a topic that holds no notifications yet. Sending it back as the only
// cursor entry asks for everything the topic holds.
const SubscriptionStartID = "-1"

// Notification is the client-visible part of a stored notification.
type Notification struct {
	ID                string          `json:"id"`
	Topic             string          `json:"topic"`
	NodeID            string          `json:"nodeId"`
	CreationTime      time.Time       `json:"creationTime"`
	SubscriptionStart bool            `json:"subscriptionStart,omitempty"`
	Payload           json.RawMessage `json:"payload,omitempty"`
}

// IsSubscriptionStart reports whether n is the synthetic "-1" marker.
func (n Notification) IsSubscriptionStart() bool {
	return n.ID == SubscriptionStartID
}

// AsSubscriptionStart returns a copy of n marked as subscription start, without payload.
func (n Notification) AsSubscriptionStart() Notification {
	n.SubscriptionStart = true
	n.Payload = nil
	return n
}

// NewSubscriptionStart builds the synthetic marker for a topic without notifications.
func NewSubscriptionStart(topic, nodeID string) Notification {
	return Notification{
		ID:                SubscriptionStartID,
		Topic:             topic,
		NodeID:            nodeID,
		CreationTime:      time.UnixMilli(0).UTC(),
		SubscriptionStart: true,
	}
}
