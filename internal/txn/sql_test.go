package txn

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

func TestRunInSQLTransaction_Commit(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	m := &recordingMember{needs: true, accept: true}
	err := RunInSQLTransaction(context.Background(), db, func(tx *Transaction, sqlTx *sql.Tx) error {
		tx.RegisterMemberIfAbsent("m", func() Member { return m })
		_, err := sqlTx.Exec("INSERT INTO audit (msg) VALUES ($1)", "hello")
		return err
	})
	if err != nil {
		t.Fatalf("RunInSQLTransaction: %v", err)
	}
	if m.phase1 != 1 || m.phase2 != 1 || m.rolled != 0 {
		t.Errorf("phase1=%d phase2=%d rolled=%d, want 1/1/0", m.phase1, m.phase2, m.rolled)
	}
}

func TestRunInSQLTransaction_FnError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	m := &recordingMember{needs: true, accept: true}
	err := RunInSQLTransaction(context.Background(), db, func(tx *Transaction, _ *sql.Tx) error {
		tx.RegisterMemberIfAbsent("m", func() Member { return m })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want boom", err)
	}
	if m.phase2 != 0 || m.rolled != 1 {
		t.Errorf("phase2=%d rolled=%d, want 0/1", m.phase2, m.rolled)
	}
}

func TestRunInSQLTransaction_Phase1Refused(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	m := &recordingMember{needs: true, accept: false}
	err := RunInSQLTransaction(context.Background(), db, func(tx *Transaction, _ *sql.Tx) error {
		tx.RegisterMemberIfAbsent("m", func() Member { return m })
		return nil
	})
	if !errors.Is(err, ErrCommitFailed) {
		t.Fatalf("error = %v, want ErrCommitFailed", err)
	}
	if m.phase2 != 0 || m.rolled != 1 {
		t.Errorf("phase2=%d rolled=%d, want 0/1", m.phase2, m.rolled)
	}
}

func TestRunInSQLTransaction_SQLCommitFails(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	m := &recordingMember{needs: true, accept: true}
	err := RunInSQLTransaction(context.Background(), db, func(tx *Transaction, _ *sql.Tx) error {
		tx.RegisterMemberIfAbsent("m", func() Member { return m })
		return nil
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if m.phase2 != 0 || m.rolled != 1 {
		t.Errorf("phase2=%d rolled=%d, want 0/1", m.phase2, m.rolled)
	}
}

func TestRunInSQLTransaction_BeginFails(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin().WillReturnError(errors.New("no connection"))

	called := false
	err := RunInSQLTransaction(context.Background(), db, func(*Transaction, *sql.Tx) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if called {
		t.Error("fn must not run when begin fails")
	}
}
