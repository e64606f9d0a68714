package registry

import (
	"context"
	"sync"

	"github.com/alfredjeanlab/uinotify/internal/model"
	"github.com/alfredjeanlab/uinotify/internal/txn"
)

// TransactionMemberID is the member id the registry claims in a transaction.
const TransactionMemberID = "uinotify.transactionMember"

type pendingPut struct {
	ctx     context.Context
	env     *model.Envelope
	publish bool
}

// txMember holds the notifications put during a transaction until it commits.
type txMember struct {
	r *Registry

	mu      sync.Mutex
	pending []pendingPut
}

var _ txn.Member = (*txMember)(nil)

func newTxMember(r *Registry) *txMember {
	return &txMember{r: r}
}

func (m *txMember) add(ctx context.Context, env *model.Envelope, publish bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, pendingPut{ctx: ctx, env: env, publish: publish})
}

func (m *txMember) take() []pendingPut {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pending
	m.pending = nil
	return p
}

func (m *txMember) NeedsCommit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending) > 0
}

func (m *txMember) CommitPhase1() bool {
	return true
}

func (m *txMember) CommitPhase2() {
	for _, p := range m.take() {
		m.r.putInternal(p.ctx, p.env, p.publish)
	}
}

func (m *txMember) Rollback() {
	if dropped := m.take(); len(dropped) > 0 {
		m.r.logger.Info("registry: discarded notifications of rolled back transaction", "count", len(dropped))
	}
}
