package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/uinotify/internal/model"
	"github.com/alfredjeanlab/uinotify/internal/registry"
	"github.com/alfredjeanlab/uinotify/internal/txn"
)

// maxTopicsPerPoll bounds the number of topics one poll may ask for.
const maxTopicsPerPoll = 100

// ClusterState reports the health of the cluster transport.
type ClusterState interface {
	State() string
}

// Options configures a NotificationServer.
type Options struct {
	// PollRate limits polls per user per second. Zero disables the limit.
	PollRate  float64
	PollBurst int
	// Cluster is optional and only feeds the health output.
	Cluster ClusterState
}

// NotificationServer exposes a registry over HTTP and gRPC.
type NotificationServer struct {
	registry *registry.Registry
	limiter  *pollLimiter
	cluster  ClusterState
}

// NewNotificationServer returns a server backed by reg.
func NewNotificationServer(reg *registry.Registry, opts *Options) *NotificationServer {
	if opts == nil {
		opts = &Options{}
	}
	return &NotificationServer{
		registry: reg,
		limiter:  newPollLimiter(opts.PollRate, opts.PollBurst),
		cluster:  opts.Cluster,
	}
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

// errRateLimited is mapped to 429 / ResourceExhausted.
var errRateLimited = errors.New("rate limit exceeded")

// Poll returns what the topics hold beyond their cursors, waiting up to the
// requested timeout, capped at the registry wait timeout, when nothing is
// there yet.
func (s *NotificationServer) Poll(ctx context.Context, req *model.PollRequest, user string) (*model.PollResponse, error) {
	if err := validateTopics(req.Topics); err != nil {
		return nil, err
	}
	if !s.limiter.allow(user) {
		return nil, errRateLimited
	}

	var ch <-chan []model.Notification
	if req.TimeoutMs == nil {
		ch = s.registry.GetOrWaitDefault(ctx, req.Topics, user)
	} else {
		if *req.TimeoutMs < 0 {
			return nil, inputError("timeoutMs must not be negative")
		}
		// Client timeouts never exceed the configured wait.
		timeout := min(time.Duration(*req.TimeoutMs)*time.Millisecond, s.registry.WaitTimeout())
		ch = s.registry.GetOrWait(ctx, req.Topics, user, timeout)
	}
	ns := <-ch
	if ns == nil {
		ns = []model.Notification{}
	}
	return &model.PollResponse{Notifications: ns}, nil
}

// Get returns what the topics hold beyond their cursors without waiting.
func (s *NotificationServer) Get(_ context.Context, req *model.PollRequest, user string) (*model.PollResponse, error) {
	if err := validateTopics(req.Topics); err != nil {
		return nil, err
	}
	return &model.PollResponse{Notifications: s.registry.Get(req.Topics, user)}, nil
}

// Put stores one notification.
func (s *NotificationServer) Put(ctx context.Context, req *model.PutRequest) (*model.PutResponse, error) {
	if err := validatePut(req); err != nil {
		return nil, err
	}
	if err := s.put(ctx, req, nil); err != nil {
		return nil, err
	}
	return &model.PutResponse{Accepted: 1}, nil
}

// PutBatch stores several notifications inside one transaction, so pollers
// see all of them or none.
func (s *NotificationServer) PutBatch(ctx context.Context, req *model.BatchPutRequest) (*model.PutResponse, error) {
	if len(req.Notifications) == 0 {
		return nil, inputError("notifications must not be empty")
	}
	for i := range req.Notifications {
		if err := validatePut(&req.Notifications[i]); err != nil {
			return nil, inputError(fmt.Sprintf("notifications[%d]: %v", i, err))
		}
	}

	tx := txn.New()
	for i := range req.Notifications {
		if err := s.put(ctx, &req.Notifications[i], tx); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return &model.PutResponse{Accepted: len(req.Notifications)}, nil
}

func (s *NotificationServer) put(ctx context.Context, req *model.PutRequest, tx *txn.Transaction) error {
	opts := &registry.PutOptions{
		Transactional:      registry.Bool(tx != nil),
		Tx:                 tx,
		Timeout:            time.Duration(req.TimeoutMs) * time.Millisecond,
		PublishOverCluster: req.PublishOverCluster,
	}
	if len(req.ExcludedUserIDs) > 0 {
		return s.registry.PutExcept(ctx, req.Topic, req.ExcludedUserIDs, req.Payload, opts)
	}
	return s.registry.Put(ctx, req.Topic, req.User, req.Payload, opts)
}

// Delay reports the handler delay window of topic.
func (s *NotificationServer) Delay(topic string) (*model.DelayResponse, error) {
	if topic == "" {
		return nil, inputError("topic is required")
	}
	return &model.DelayResponse{
		Topic:        topic,
		Listeners:    s.registry.ListenerCount(topic),
		DelaySeconds: int64(s.registry.HandlerDelayWindow(topic) / time.Second),
	}, nil
}

// Stats summarizes the registry.
func (s *NotificationServer) Stats() registry.Stats {
	return s.registry.Stats()
}

// Health reports liveness and, when configured, the cluster transport state.
func (s *NotificationServer) Health() *model.HealthResponse {
	resp := &model.HealthResponse{Status: "ok", NodeID: s.registry.NodeID()}
	if s.cluster != nil {
		resp.Cluster = s.cluster.State()
	}
	return resp
}

func validateTopics(topics []model.Topic) error {
	if len(topics) == 0 {
		return inputError("topics must not be empty")
	}
	if len(topics) > maxTopicsPerPoll {
		return inputError(fmt.Sprintf("at most %d topics per poll", maxTopicsPerPoll))
	}
	for i, t := range topics {
		if t.Name == "" {
			return inputError(fmt.Sprintf("topics[%d]: name is required", i))
		}
	}
	return nil
}

func validatePut(req *model.PutRequest) error {
	if req.Topic == "" {
		return inputError("topic is required")
	}
	if req.User != "" && len(req.ExcludedUserIDs) > 0 {
		return inputError("user and excludedUserIds are mutually exclusive")
	}
	if req.TimeoutMs < 0 {
		return inputError("timeoutMs must not be negative")
	}
	return nil
}
