package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/uinotify/internal/model"
)

// ServiceName is the fully qualified gRPC service name. Every method takes
// and returns a google.protobuf.Struct holding the JSON form of the
// corresponding HTTP body.
const ServiceName = "uinotify.v1.NotificationService"

const (
	methodPoll     = "/" + ServiceName + "/Poll"
	methodGet      = "/" + ServiceName + "/Get"
	methodPut      = "/" + ServiceName + "/Put"
	methodPutBatch = "/" + ServiceName + "/PutBatch"
	methodDelay    = "/" + ServiceName + "/Delay"
	methodStats    = "/" + ServiceName + "/Stats"
	methodHealth   = "/" + ServiceName + "/Health"

	userMetadataKey = "x-user"
)

// DelayRequest names the topic of a Delay call.
type DelayRequest struct {
	Topic string `json:"topic"`
}

type notificationService interface {
	Health() *model.HealthResponse
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*notificationService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Poll", Handler: unary(methodPoll, func(s *NotificationServer, ctx context.Context, in *model.PollRequest) (any, error) {
			return s.Poll(ctx, in, userFromContext(ctx))
		})},
		{MethodName: "Get", Handler: unary(methodGet, func(s *NotificationServer, ctx context.Context, in *model.PollRequest) (any, error) {
			return s.Get(ctx, in, userFromContext(ctx))
		})},
		{MethodName: "Put", Handler: unary(methodPut, func(s *NotificationServer, ctx context.Context, in *model.PutRequest) (any, error) {
			return s.Put(ctx, in)
		})},
		{MethodName: "PutBatch", Handler: unary(methodPutBatch, func(s *NotificationServer, ctx context.Context, in *model.BatchPutRequest) (any, error) {
			return s.PutBatch(ctx, in)
		})},
		{MethodName: "Delay", Handler: unary(methodDelay, func(s *NotificationServer, _ context.Context, in *DelayRequest) (any, error) {
			return s.Delay(in.Topic)
		})},
		{MethodName: "Stats", Handler: unary(methodStats, func(s *NotificationServer, _ context.Context, _ *struct{}) (any, error) {
			st := s.Stats()
			return &st, nil
		})},
		{MethodName: "Health", Handler: unary(methodHealth, func(s *NotificationServer, _ context.Context, _ *struct{}) (any, error) {
			return s.Health(), nil
		})},
	},
	Streams: []grpc.StreamDesc{},
}

// NewGRPCServer creates a gRPC server with standard interceptors and
// registers the notification service, the standard health service and
// reflection.
func NewGRPCServer(s *NotificationServer, authToken string) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
			AuthInterceptor(authToken),
		),
	)

	srv.RegisterService(&serviceDesc, s)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return srv
}

// unary adapts a typed call to a grpc.MethodHandler. The request Struct is
// decoded into Req through its JSON form and the result encoded back the
// same way.
func unary[Req any](method string, call func(*NotificationServer, context.Context, *Req) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(*NotificationServer)
		handler := func(ctx context.Context, req any) (any, error) {
			var typed Req
			if err := FromStruct(req.(*structpb.Struct), &typed); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
			}
			resp, err := call(s, ctx, &typed)
			if err != nil {
				return nil, grpcError(err)
			}
			out, err := ToStruct(resp)
			if err != nil {
				return nil, status.Errorf(codes.Internal, "encode response: %v", err)
			}
			return out, nil
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: method}, handler)
	}
}

func grpcError(err error) error {
	var ie inputError
	switch {
	case errors.As(err, &ie):
		return status.Error(codes.InvalidArgument, ie.Error())
	case errors.Is(err, errRateLimited):
		return status.Error(codes.ResourceExhausted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// ToStruct converts v to a Struct through its JSON encoding.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	st := new(structpb.Struct)
	if err := protojson.Unmarshal(b, st); err != nil {
		return nil, fmt.Errorf("%T is not a JSON object: %w", v, err)
	}
	return st, nil
}

// FromStruct decodes st into v through its JSON encoding.
func FromStruct(st *structpb.Struct, v any) error {
	if st == nil {
		return nil
	}
	b, err := protojson.Marshal(st)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

