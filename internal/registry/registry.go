// Package registry holds the in-memory notification backlog of one node and
// serves long-poll subscribers from it.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/uinotify/internal/idgen"
	"github.com/alfredjeanlab/uinotify/internal/model"
	"github.com/alfredjeanlab/uinotify/internal/txn"
)

// ErrTopicRequired is returned by Put when the topic is empty.
var ErrTopicRequired = errors.New("registry: topic is required")

const (
	DefaultNotificationTTL   = 3 * time.Minute
	DefaultWaitTimeout       = time.Minute
	DefaultHandlerThroughput = 30
)

// Publisher forwards locally created envelopes to the other cluster nodes.
type Publisher interface {
	Publish(ctx context.Context, env *model.Envelope) error
}

// Config tunes a Registry. Zero values select the defaults, except
// CleanupInterval where zero disables the background cleanup.
type Config struct {
	NotificationTTL   time.Duration
	WaitTimeout       time.Duration
	CleanupInterval   time.Duration
	HandlerThroughput int

	// Publisher is optional. Without it nothing leaves this node.
	Publisher Publisher
	// IDGenerator defaults to a sequence starting at 1.
	IDGenerator idgen.Generator
	Logger      *slog.Logger

	// Now is the clock used for creation times and expiry.
	Now func() time.Time
}

// PutOptions adjusts a single Put. A nil *PutOptions selects the defaults.
type PutOptions struct {
	// Transactional defaults to true. It only takes effect with a Tx.
	Transactional *bool
	Tx            *txn.Transaction
	// Timeout is the time-to-live. Zero selects the registry default.
	Timeout time.Duration
	// PublishOverCluster defaults to true.
	PublishOverCluster *bool
}

// Bool returns a pointer to b, for PutOptions fields.
func Bool(b bool) *bool { return &b }

// NoTransaction returns options that insert immediately.
func NoTransaction() *PutOptions {
	return &PutOptions{Transactional: Bool(false)}
}

// NoClusterSync returns options that insert immediately and keep the
// notification on this node.
func NoClusterSync() *PutOptions {
	return &PutOptions{Transactional: Bool(false), PublishOverCluster: Bool(false)}
}

func (o *PutOptions) transactional() bool {
	return o == nil || o.Transactional == nil || *o.Transactional
}

func (o *PutOptions) publish() bool {
	return o == nil || o.PublishOverCluster == nil || *o.PublishOverCluster
}

// Registry stores notifications per topic and resolves long polls.
type Registry struct {
	nodeID     string
	ttl        time.Duration
	wait       time.Duration
	throughput int
	publisher  Publisher
	logger     *slog.Logger
	now        func() time.Time

	genMu sync.RWMutex
	gen   idgen.Generator

	// mu guards queues and lastCreation.
	mu           sync.RWMutex
	queues       map[string][]*model.Envelope
	lastCreation time.Time

	listenersMu sync.Mutex
	listeners   map[string]map[Listener]struct{}

	// cleanupMu guards the cleanup job state. Lock order: mu, then cleanupMu.
	cleanupMu       sync.Mutex
	cleanupInterval time.Duration
	cleanupStop     chan struct{}
	cleanupDone     chan struct{}
	closed          bool
}

// New creates a registry for the node identified by nodeID. The id is hashed
// before it is attached to notifications so host names never reach clients.
func New(nodeID string, cfg *Config) *Registry {
	if cfg == nil {
		cfg = &Config{}
	}
	r := &Registry{
		nodeID:          idgen.HashNodeID(nodeID),
		ttl:             cfg.NotificationTTL,
		wait:            cfg.WaitTimeout,
		throughput:      cfg.HandlerThroughput,
		publisher:       cfg.Publisher,
		logger:          cfg.Logger,
		now:             cfg.Now,
		gen:             cfg.IDGenerator,
		queues:          make(map[string][]*model.Envelope),
		listeners:       make(map[string]map[Listener]struct{}),
		cleanupInterval: cfg.CleanupInterval,
	}
	if r.ttl <= 0 {
		r.ttl = DefaultNotificationTTL
	}
	if r.wait <= 0 {
		r.wait = DefaultWaitTimeout
	}
	if r.throughput <= 0 {
		r.throughput = DefaultHandlerThroughput
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.gen == nil {
		r.gen = idgen.NewSequence(1)
	}
	if r.publisher == nil {
		r.logger.Info("registry: no cluster publisher configured, notifications stay on this node")
	}
	return r
}

// NodeID returns the hashed id this registry stamps on its notifications.
func (r *Registry) NodeID() string {
	return r.nodeID
}

// SetIDGenerator replaces the id generator.
func (r *Registry) SetIDGenerator(g idgen.Generator) {
	r.genMu.Lock()
	defer r.genMu.Unlock()
	r.gen = g
}

// IDGenerator returns the current id generator.
func (r *Registry) IDGenerator() idgen.Generator {
	r.genMu.RLock()
	defer r.genMu.RUnlock()
	return r.gen
}

// Put stores payload under topic. A non-empty user restricts visibility to
// that user.
func (r *Registry) Put(ctx context.Context, topic, user string, payload json.RawMessage, opts *PutOptions) error {
	return r.putMessage(ctx, topic, user, nil, payload, opts)
}

// PutExcept stores payload under topic for everybody except excludedUserIDs.
func (r *Registry) PutExcept(ctx context.Context, topic string, excludedUserIDs []string, payload json.RawMessage, opts *PutOptions) error {
	if len(excludedUserIDs) == 0 {
		excludedUserIDs = nil
	}
	return r.putMessage(ctx, topic, "", excludedUserIDs, payload, opts)
}

func (r *Registry) putMessage(ctx context.Context, topic, user string, excluded []string, payload json.RawMessage, opts *PutOptions) error {
	if topic == "" {
		return ErrTopicRequired
	}

	timeout := r.ttl
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	env := &model.Envelope{
		Notification: model.Notification{
			ID:      r.IDGenerator().Generate(),
			Topic:   topic,
			NodeID:  r.nodeID,
			Payload: payload,
		},
		User:            user,
		ExcludedUserIDs: excluded,
		Timeout:         timeout,
	}

	if opts != nil && opts.Tx != nil && opts.transactional() {
		r.putTransactional(ctx, opts.Tx, env, opts.publish())
		return nil
	}
	r.putInternal(ctx, env, opts.publish())
	return nil
}

func (r *Registry) putTransactional(ctx context.Context, tx *txn.Transaction, env *model.Envelope, publish bool) {
	m := tx.RegisterMemberIfAbsent(TransactionMemberID, func() txn.Member {
		return newTxMember(r)
	})
	member, ok := m.(*txMember)
	if !ok || member.r != r {
		r.logger.Warn("registry: transaction member slot taken, inserting immediately",
			"txn", tx.ID(), "id", env.Notification.ID, "topic", env.Notification.Topic)
		r.putInternal(ctx, env, publish)
		return
	}
	member.add(context.WithoutCancel(ctx), env, publish)
}

// HandleClusterNotification inserts an envelope received from another node.
// Its id, node and creation time are kept, and it is not published again.
func (r *Registry) HandleClusterNotification(ctx context.Context, env *model.Envelope) {
	if env == nil || env.Notification.Topic == "" {
		r.logger.Warn("registry: dropping cluster notification without topic")
		return
	}
	n := env.Notification
	r.logger.Info("registry: received cluster notification",
		"id", n.ID, "node", n.NodeID, "topic", n.Topic, "user", env.User)
	r.putInternal(ctx, env, false)
}

func (r *Registry) putInternal(ctx context.Context, env *model.Envelope, publish bool) {
	n := &env.Notification

	r.mu.Lock()
	r.stampCreationTime(n)
	queue := append(r.queues[n.Topic], env)
	r.queues[n.Topic] = queue
	size := len(queue)
	r.startCleanupJobLocked()
	added := *n
	r.mu.Unlock()

	r.logger.Info("registry: added notification", "id", added.ID, "topic", added.Topic, "size", size)

	r.trigger(added.Topic, added)

	if publish && r.publisher != nil {
		if err := r.publisher.Publish(ctx, env); err != nil {
			r.logger.Warn("registry: cluster publish failed", "id", added.ID, "topic", added.Topic, "err", err)
			return
		}
		r.logger.Info("registry: published notification to cluster", "id", added.ID, "topic", added.Topic, "user", env.User)
	}
}

// stampCreationTime assigns a unique, increasing creation time to local
// notifications. Callers hold mu.
func (r *Registry) stampCreationTime(n *model.Notification) {
	if n.NodeID != r.nodeID {
		return
	}
	t := time.UnixMilli(r.now().UnixMilli()).UTC()
	if !r.lastCreation.IsZero() && !t.After(r.lastCreation) {
		t = r.lastCreation.Add(time.Millisecond)
	}
	n.CreationTime = t
	r.lastCreation = t
}

// Get returns the notifications of topics newer than their cursors. Topics
// without a cursor yield subscription start markers.
func (r *Registry) Get(topics []model.Topic, user string) []model.Notification {
	out := make([]model.Notification, 0)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range topics {
		out = append(out, reconcile(t.Name, r.queues[t.Name], user, t.LastNotifications, r.nodeID)...)
	}
	return out
}

// Cleanup removes expired notifications and topics left empty.
func (r *Registry) Cleanup() {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queues) == 0 {
		return
	}
	r.logger.Debug("registry: cleaning up expired notifications", "topics", len(r.queues))

	for topic, queue := range r.queues {
		kept := queue[:0]
		for _, env := range queue {
			if !env.Expired(now) {
				kept = append(kept, env)
			}
		}
		for i := len(kept); i < len(queue); i++ {
			queue[i] = nil
		}
		if removed := len(queue) - len(kept); removed > 0 {
			r.logger.Info("registry: removed expired notifications", "topic", topic, "removed", removed, "size", len(kept))
		}
		if len(kept) == 0 {
			delete(r.queues, topic)
			continue
		}
		r.queues[topic] = kept
	}
	r.logger.Debug("registry: cleanup finished", "topics", len(r.queues))
}

// SetCleanupInterval changes the interval of the cleanup job. It applies the
// next time the job starts. Zero disables the job.
func (r *Registry) SetCleanupInterval(d time.Duration) {
	r.cleanupMu.Lock()
	defer r.cleanupMu.Unlock()
	r.cleanupInterval = d
}

// startCleanupJobLocked starts the cleanup job unless it runs already.
// Callers hold mu.
func (r *Registry) startCleanupJobLocked() {
	r.cleanupMu.Lock()
	defer r.cleanupMu.Unlock()
	if r.closed || r.cleanupStop != nil || r.cleanupInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	r.cleanupStop = stop
	r.cleanupDone = done
	go r.cleanupLoop(r.cleanupInterval, stop, done)
	r.logger.Info("registry: cleanup job started", "interval", r.cleanupInterval)
}

func (r *Registry) cleanupLoop(interval time.Duration, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.Cleanup()
			if r.stopCleanupIfEmpty(stop) {
				r.logger.Info("registry: cleanup job stopped")
				return
			}
		}
	}
}

// stopCleanupIfEmpty detaches the job when nothing is left to clean. It holds
// the read lock so no insert can slip in between the check and the detach.
func (r *Registry) stopCleanupIfEmpty(stop chan struct{}) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.queues) > 0 {
		return false
	}
	r.cleanupMu.Lock()
	defer r.cleanupMu.Unlock()
	if r.cleanupStop == stop {
		r.cleanupStop = nil
		r.cleanupDone = nil
	}
	return true
}

// cleanupRunning reports whether the cleanup job is active.
func (r *Registry) cleanupRunning() bool {
	r.cleanupMu.Lock()
	defer r.cleanupMu.Unlock()
	return r.cleanupStop != nil
}

// Close stops the cleanup job and resolves pending waiters with an empty result.
func (r *Registry) Close() {
	r.cleanupMu.Lock()
	r.closed = true
	stop, done := r.cleanupStop, r.cleanupDone
	r.cleanupStop, r.cleanupDone = nil, nil
	r.cleanupMu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	for _, l := range r.allListeners() {
		if w, ok := l.(*waiter); ok {
			w.resolve(nil, "closed")
		}
	}
}

// TopicStats describes one topic of the backlog.
type TopicStats struct {
	Topic     string `json:"topic"`
	Backlog   int    `json:"backlog"`
	Listeners int    `json:"listeners"`
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	NodeID        string       `json:"nodeId"`
	Notifications int          `json:"notifications"`
	Listeners     int          `json:"listeners"`
	Topics        []TopicStats `json:"topics"`
}

// Stats summarizes backlog sizes and listener counts per topic.
func (r *Registry) Stats() Stats {
	byTopic := make(map[string]*TopicStats)
	r.mu.RLock()
	for topic, queue := range r.queues {
		byTopic[topic] = &TopicStats{Topic: topic, Backlog: len(queue)}
	}
	r.mu.RUnlock()

	r.listenersMu.Lock()
	for topic, set := range r.listeners {
		ts, ok := byTopic[topic]
		if !ok {
			ts = &TopicStats{Topic: topic}
			byTopic[topic] = ts
		}
		ts.Listeners = len(set)
	}
	r.listenersMu.Unlock()

	st := Stats{NodeID: r.nodeID, Topics: make([]TopicStats, 0, len(byTopic))}
	for _, ts := range byTopic {
		st.Notifications += ts.Backlog
		st.Listeners += ts.Listeners
		st.Topics = append(st.Topics, *ts)
	}
	sort.Slice(st.Topics, func(i, j int) bool { return st.Topics[i].Topic < st.Topics[j].Topic })
	return st
}

// Snapshot copies the whole backlog, ordered by topic and insertion.
func (r *Registry) Snapshot() []model.Envelope {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.queues))
	for topic := range r.queues {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	var out []model.Envelope
	for _, topic := range topics {
		for _, env := range r.queues[topic] {
			out = append(out, *env)
		}
	}
	return out
}
