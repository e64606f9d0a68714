package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alfredjeanlab/uinotify/internal/model"
	"github.com/alfredjeanlab/uinotify/internal/registry"
	"github.com/alfredjeanlab/uinotify/internal/server"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	method  string
	path    string
	escPath string
	body    string
	user    string
	auth    string

	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.escPath = r.URL.EscapedPath()
	h.user = r.Header.Get(server.UserHeader)
	h.auth = r.Header.Get("Authorization")
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

func newTestClient(t *testing.T, h http.Handler, token, user string) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", token, user)
}

// newLiveServer runs the real HTTP handler over a fresh registry.
func newLiveServer(t *testing.T) (http.Handler, *registry.Registry) {
	t.Helper()
	reg := registry.New("client-test", &registry.Config{Logger: slog.New(slog.DiscardHandler)})
	t.Cleanup(reg.Close)
	return server.NewNotificationServer(reg, nil).NewHTTPHandler(""), reg
}

func TestHTTPClient_Headers(t *testing.T) {
	h := &testHandler{responseBody: `{"accepted":1}`}
	c := newTestClient(t, h, "tok", "alice")

	resp, err := c.Put(context.Background(), &model.PutRequest{Topic: "chat", Payload: json.RawMessage(`1`)})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if resp.Accepted != 1 {
		t.Fatalf("expected 1 accepted, got %d", resp.Accepted)
	}
	if h.method != http.MethodPost || h.path != "/v1/notifications" {
		t.Fatalf("unexpected request %s %s", h.method, h.path)
	}
	if h.user != "alice" || h.auth != "Bearer tok" {
		t.Fatalf("unexpected headers user=%q auth=%q", h.user, h.auth)
	}
	var body model.PutRequest
	if err := json.Unmarshal([]byte(h.body), &body); err != nil || body.Topic != "chat" {
		t.Fatalf("unexpected body %s (%v)", h.body, err)
	}
}

func TestHTTPClient_DelayEscapesTopic(t *testing.T) {
	h := &testHandler{responseBody: `{"topic":"a/b","listeners":0,"delaySeconds":0}`}
	c := newTestClient(t, h, "", "")
	if _, err := c.Delay(context.Background(), "a/b"); err != nil {
		t.Fatalf("Delay: %v", err)
	}
	if h.method != http.MethodGet || h.escPath != "/v1/topics/a%2Fb/delay" {
		t.Fatalf("unexpected request %s %s", h.method, h.path)
	}
}

func TestHTTPClient_APIError(t *testing.T) {
	for _, tc := range []struct {
		name      string
		status    int
		body      string
		wantMsg   string
		temporary bool
	}{
		{"JSONError", http.StatusBadRequest, `{"error":"topic is required"}`, "topic is required", false},
		{"PlainError", http.StatusBadGateway, "upstream down", "upstream down", true},
		{"RateLimited", http.StatusTooManyRequests, `{"error":"rate limit exceeded"}`, "rate limit exceeded", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, &testHandler{statusCode: tc.status, responseBody: tc.body}, "", "")
			_, err := c.Health(context.Background())
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %v", err)
			}
			if apiErr.StatusCode != tc.status || apiErr.Message != tc.wantMsg {
				t.Fatalf("unexpected error %+v", apiErr)
			}
			if apiErr.Temporary() != tc.temporary {
				t.Fatalf("Temporary() = %v, want %v", apiErr.Temporary(), tc.temporary)
			}
		})
	}
}

func TestHTTPClient_Live(t *testing.T) {
	h, reg := newLiveServer(t)
	alice := newTestClient(t, h, "", "alice")
	ctx := context.Background()

	p := NewPoller(alice, []string{"chat"}, &PollerOptions{Timeout: time.Millisecond})
	if fresh, err := p.PollOnce(ctx); err != nil || len(fresh) != 0 {
		t.Fatalf("subscribe: %v, %v", fresh, err)
	}

	if _, err := alice.PutBatch(ctx, &model.BatchPutRequest{Notifications: []model.PutRequest{
		{Topic: "chat", User: "alice", Payload: json.RawMessage(`"a"`)},
		{Topic: "chat", User: "bob", Payload: json.RawMessage(`"b"`)},
	}}); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	fresh, err := p.PollOnce(ctx)
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if len(fresh) != 1 || string(fresh[0].Payload) != `"a"` {
		t.Fatalf("unexpected notifications %+v", fresh)
	}

	st, err := alice.Stats(ctx)
	if err != nil || st.Notifications != 2 || st.NodeID != reg.NodeID() {
		t.Fatalf("Stats: %+v, %v", st, err)
	}
	hr, err := alice.Health(ctx)
	if err != nil || hr.Status != "ok" {
		t.Fatalf("Health: %+v, %v", hr, err)
	}
	got, err := alice.Get(ctx, &model.PollRequest{Topics: p.Topics()})
	if err != nil || len(got.Notifications) != 0 {
		t.Fatalf("Get: %+v, %v", got, err)
	}
}
