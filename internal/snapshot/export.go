// Package snapshot periodically exports the in-memory backlog as JSONL for
// diagnostics. Snapshots are never read back.
package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/uinotify/internal/model"
)

// Source is what gets exported. *registry.Registry implements it.
type Source interface {
	NodeID() string
	Snapshot() []model.Envelope
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version           string    `json:"version"`
	Type              string    `json:"type"`
	Timestamp         time.Time `json:"timestamp"`
	NodeID            string    `json:"nodeId"`
	NotificationCount int       `json:"notificationCount"`
	TopicCount        int       `json:"topicCount"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes a header line followed by one line per stored
// notification, ordered by topic and insertion.
func ExportJSONL(src Source, w io.Writer, now time.Time) error {
	envs := src.Snapshot()
	topics := make(map[string]struct{})
	for i := range envs {
		topics[envs[i].Notification.Topic] = struct{}{}
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:           "1",
		Type:              "header",
		Timestamp:         now.UTC(),
		NodeID:            src.NodeID(),
		NotificationCount: len(envs),
		TopicCount:        len(topics),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for i := range envs {
		if err := enc.Encode(record{Type: "notification", Data: &envs[i]}); err != nil {
			return fmt.Errorf("encode notification %s/%s: %w", envs[i].Notification.Topic, envs[i].Notification.ID, err)
		}
	}
	return nil
}
