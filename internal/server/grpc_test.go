package server

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/uinotify/internal/model"
)

func newTestGRPC(t *testing.T, s *NotificationServer, token string) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(s, token)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke[T any](t *testing.T, ctx context.Context, conn *grpc.ClientConn, method string, req any) (T, error) {
	t.Helper()
	var out T
	in, err := ToStruct(req)
	if err != nil {
		t.Fatalf("ToStruct: %v", err)
	}
	resp := new(structpb.Struct)
	if err := conn.Invoke(ctx, method, in, resp); err != nil {
		return out, err
	}
	if err := FromStruct(resp, &out); err != nil {
		t.Fatalf("FromStruct: %v", err)
	}
	return out, nil
}

func TestGRPC_PutAndPoll(t *testing.T) {
	s, _ := newTestServer(t, nil)
	conn := newTestGRPC(t, s, "")
	ctx := metadata.AppendToOutgoingContext(t.Context(), "x-user", "alice")

	c := model.NewCursor("chat")
	sub, err := invoke[model.PollResponse](t, ctx, conn, methodPoll, model.PollRequest{Topics: c.Topics()})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	c.Advance(sub.Notifications)

	put, err := invoke[model.PutResponse](t, ctx, conn, methodPut, model.PutRequest{Topic: "chat", User: "alice", Payload: json.RawMessage(`{"n":1}`)})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if put.Accepted != 1 {
		t.Fatalf("expected 1 accepted, got %d", put.Accepted)
	}

	got, err := invoke[model.PollResponse](t, ctx, conn, methodPoll, model.PollRequest{Topics: c.Topics(), TimeoutMs: ms(0)})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	fresh := c.Advance(got.Notifications)
	if len(fresh) != 1 {
		t.Fatalf("expected 1 notification, got %+v", fresh)
	}
	var p map[string]int
	if err := json.Unmarshal(fresh[0].Payload, &p); err != nil || p["n"] != 1 {
		t.Fatalf("unexpected payload %s (%v)", fresh[0].Payload, err)
	}

	// Another user sees nothing.
	other := metadata.AppendToOutgoingContext(t.Context(), "x-user", "bob")
	got, err = invoke[model.PollResponse](t, other, conn, methodGet, model.PollRequest{Topics: c.Topics()})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Notifications) != 0 {
		t.Fatalf("expected nothing for bob, got %+v", got.Notifications)
	}
}

func TestGRPC_BatchDelayStats(t *testing.T) {
	s, _ := newTestServer(t, nil)
	conn := newTestGRPC(t, s, "")
	ctx := t.Context()

	batch, err := invoke[model.PutResponse](t, ctx, conn, methodPutBatch, model.BatchPutRequest{Notifications: []model.PutRequest{
		{Topic: "a"}, {Topic: "b"},
	}})
	if err != nil || batch.Accepted != 2 {
		t.Fatalf("PutBatch: %+v, %v", batch, err)
	}

	delay, err := invoke[model.DelayResponse](t, ctx, conn, methodDelay, DelayRequest{Topic: "a"})
	if err != nil || delay.Topic != "a" || delay.DelaySeconds != 0 {
		t.Fatalf("Delay: %+v, %v", delay, err)
	}

	type statsDoc struct {
		Notifications int `json:"notifications"`
	}
	stats, err := invoke[statsDoc](t, ctx, conn, methodStats, struct{}{})
	if err != nil || stats.Notifications != 2 {
		t.Fatalf("Stats: %+v, %v", stats, err)
	}
}

func TestGRPC_ErrorCodes(t *testing.T) {
	s, _ := newTestServer(t, &Options{PollRate: 0.001, PollBurst: 1})
	conn := newTestGRPC(t, s, "")
	ctx := t.Context()

	if _, err := invoke[model.PutResponse](t, ctx, conn, methodPut, model.PutRequest{}); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}

	poll := model.PollRequest{Topics: []model.Topic{{Name: "chat"}}, TimeoutMs: ms(0)}
	if _, err := invoke[model.PollResponse](t, ctx, conn, methodPoll, poll); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if _, err := invoke[model.PollResponse](t, ctx, conn, methodPoll, poll); status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
}

func TestGRPC_AuthAndHealth(t *testing.T) {
	s, reg := newTestServer(t, nil)
	conn := newTestGRPC(t, s, "secret")

	h, err := invoke[model.HealthResponse](t, t.Context(), conn, methodHealth, struct{}{})
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "ok" || h.NodeID != reg.NodeID() {
		t.Fatalf("unexpected health %+v", h)
	}

	if _, err := invoke[model.PutResponse](t, t.Context(), conn, methodPut, model.PutRequest{Topic: "chat"}); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}

	authed := metadata.AppendToOutgoingContext(t.Context(), "authorization", "Bearer secret")
	if _, err := invoke[model.PutResponse](t, authed, conn, methodPut, model.PutRequest{Topic: "chat"}); err != nil {
		t.Fatalf("authorized Put: %v", err)
	}

	resp, err := healthpb.NewHealthClient(conn).Check(t.Context(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.GetStatus())
	}
}
