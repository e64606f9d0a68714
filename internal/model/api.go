package model

import "encoding/json"

// PollRequest asks for the notifications of Topics newer than their cursors.
// TimeoutMs bounds the long poll; nil selects the server default and 0
// returns immediately.
type PollRequest struct {
	Topics    []Topic `json:"topics"`
	TimeoutMs *int64  `json:"timeoutMs,omitempty"`
}

// PollResponse carries the result of a poll. Notifications is never null.
type PollResponse struct {
	Notifications []Notification `json:"notifications"`
}

// PutRequest creates one notification. User and ExcludedUserIDs are mutually
// exclusive; with neither the notification is visible to everyone.
type PutRequest struct {
	Topic              string          `json:"topic"`
	User               string          `json:"user,omitempty"`
	ExcludedUserIDs    []string        `json:"excludedUserIds,omitempty"`
	Payload            json.RawMessage `json:"payload,omitempty"`
	TimeoutMs          int64           `json:"timeoutMs,omitempty"`
	PublishOverCluster *bool           `json:"publishOverCluster,omitempty"`
}

// BatchPutRequest creates several notifications that become visible together.
type BatchPutRequest struct {
	Notifications []PutRequest `json:"notifications"`
}

// PutResponse acknowledges a put.
type PutResponse struct {
	Accepted int `json:"accepted"`
}

// DelayResponse is the window over which handlers of a topic should spread
// their follow-up requests.
type DelayResponse struct {
	Topic        string `json:"topic"`
	Listeners    int    `json:"listeners"`
	DelaySeconds int64  `json:"delaySeconds"`
}

// HealthResponse reports node liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	NodeID  string `json:"nodeId,omitempty"`
	Cluster string `json:"cluster,omitempty"`
}
