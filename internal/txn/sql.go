package txn

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// OpenPostgres opens a lib/pq connection pool and verifies it with a ping.
func OpenPostgres(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// RunInSQLTransaction binds a Transaction to a database transaction. fn runs
// with both; members are prepared before the SQL commit and applied after it,
// so buffered notifications become visible only once the rows are durable.
// Any failure rolls back both sides.
func RunInSQLTransaction(ctx context.Context, db *sql.DB, fn func(tx *Transaction, sqlTx *sql.Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	t := New()
	if err := fn(t, sqlTx); err != nil {
		_ = sqlTx.Rollback()
		t.Rollback()
		return err
	}

	if !t.CommitPhase1() {
		_ = sqlTx.Rollback()
		t.Rollback()
		return ErrCommitFailed
	}

	if err := sqlTx.Commit(); err != nil {
		t.Rollback()
		return fmt.Errorf("commit transaction: %w", err)
	}
	t.CommitPhase2()
	return nil
}
