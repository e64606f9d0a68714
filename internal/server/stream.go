package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alfredjeanlab/uinotify/internal/model"
)

// streamKeepaliveInterval bounds each wait of a stream. A wait that ends
// empty is answered with a keepalive comment.
var streamKeepaliveInterval = 15 * time.Second

// handleStream handles GET /v1/notifications/stream?topics=a,b (SSE).
// The server keeps the cursor on behalf of the client and emits every
// notification visible to the X-User caller once, as an event named after
// its topic.
func (s *NotificationServer) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var names []string
	for _, t := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			names = append(names, t)
		}
	}
	cursor := model.NewCursor(names...)
	if err := validateTopics(cursor.Topics()); err != nil {
		writeServiceError(w, err)
		return
	}
	user := r.Header.Get(UserHeader)
	if !s.limiter.allow(user) {
		writeServiceError(w, errRateLimited)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Subscribe first so the stream starts at the current end of each topic.
	cursor.Advance(s.registry.Get(cursor.Topics(), user))

	ctx := r.Context()
	for ctx.Err() == nil {
		ns := <-s.registry.GetOrWait(ctx, cursor.Topics(), user, streamKeepaliveInterval)
		fresh := cursor.Advance(ns)
		if len(fresh) == 0 {
			if ctx.Err() == nil {
				fmt.Fprint(w, ":keepalive\n\n")
				flusher.Flush()
			}
			continue
		}
		for _, n := range fresh {
			if err := writeSSEEvent(w, n); err != nil {
				slog.Warn("failed to write stream event", "topic", n.Topic, "id", n.ID, "error", err)
				return
			}
		}
		flusher.Flush()
	}
}

// writeSSEEvent writes a single notification as an SSE event.
func writeSSEEvent(w http.ResponseWriter, n model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id:%s/%s\nevent:%s\ndata:%s\n\n", n.NodeID, n.ID, n.Topic, data)
	return err
}
