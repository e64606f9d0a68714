// Package txn implements a small two-phase-commit transaction that resources
// join as members. A member buffers work while the transaction is open and
// applies it in CommitPhase2, or discards it on Rollback.
package txn

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrCommitFailed is returned by Commit when a member refused phase 1.
var ErrCommitFailed = errors.New("txn: commit phase 1 failed")

// Member is a participant of a Transaction.
type Member interface {
	// NeedsCommit reports whether the member holds work to commit.
	NeedsCommit() bool
	// CommitPhase1 prepares the commit. Returning false aborts the transaction.
	CommitPhase1() bool
	// CommitPhase2 applies the prepared work.
	CommitPhase2()
	// Rollback discards all buffered work.
	Rollback()
}

// Transaction groups members that commit or roll back together.
type Transaction struct {
	id string

	mu      sync.Mutex
	order   []string
	members map[string]Member
}

// New returns an open transaction.
func New() *Transaction {
	return &Transaction{
		id:      uuid.NewString(),
		members: make(map[string]Member),
	}
}

// ID identifies the transaction in logs.
func (t *Transaction) ID() string {
	return t.id
}

// RegisterMemberIfAbsent returns the member registered under id, creating it
// with factory on first use.
func (t *Transaction) RegisterMemberIfAbsent(id string, factory func() Member) Member {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.members[id]; ok {
		return m
	}
	m := factory()
	t.members[id] = m
	t.order = append(t.order, id)
	return m
}

// Member returns the member registered under id, or nil.
func (t *Transaction) Member(id string) Member {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.members[id]
}

// UnregisterMember removes the member registered under id.
func (t *Transaction) UnregisterMember(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.members[id]; !ok {
		return
	}
	delete(t.members, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func (t *Transaction) snapshot() []Member {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Member, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.members[id])
	}
	return out
}

// CommitPhase1 prepares every member that needs a commit and reports whether
// all of them agreed.
func (t *Transaction) CommitPhase1() bool {
	for _, m := range t.snapshot() {
		if m.NeedsCommit() && !m.CommitPhase1() {
			return false
		}
	}
	return true
}

// CommitPhase2 applies the work of every member.
func (t *Transaction) CommitPhase2() {
	for _, m := range t.snapshot() {
		m.CommitPhase2()
	}
}

// Rollback discards the work of every member.
func (t *Transaction) Rollback() {
	for _, m := range t.snapshot() {
		m.Rollback()
	}
}

// Commit runs both phases. If phase 1 fails all members are rolled back and
// ErrCommitFailed is returned.
func (t *Transaction) Commit() error {
	if !t.CommitPhase1() {
		slog.Warn("txn: phase 1 refused, rolling back", "txn", t.id)
		t.Rollback()
		return ErrCommitFailed
	}
	t.CommitPhase2()
	return nil
}
