package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// DefaultTxTimeout bounds how long one economic transaction may hold its
// locks and store connection.
const DefaultTxTimeout = 10 * time.Second

// TxOptions configures transaction behavior.
type TxOptions struct {
	IsolationLevel sql.IsolationLevel
	Timeout        time.Duration
}

// StandardTxOptions returns the defaults used by ordinary operations.
func StandardTxOptions() *TxOptions {
	return &TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		Timeout:        DefaultTxTimeout,
	}
}

// SerializableTxOptions returns serializable isolation for operations where
// read-modify-write races across rows would be unacceptable.
func SerializableTxOptions() *TxOptions {
	return &TxOptions{
		IsolationLevel: sql.LevelSerializable,
		Timeout:        DefaultTxTimeout,
	}
}

// TxManager runs functions inside database transactions. Every mutation of
// one user action goes through a single WithTransaction call so a failing
// step discards all of them together.
type TxManager struct {
	db *bun.DB
}

func NewTxManager(db *bun.DB) *TxManager {
	return &TxManager{db: db}
}

// WithTransaction executes fn inside a transaction. fn receives a bun.IDB
// so repository methods can run against either a transaction or the bare
// connection.
func (tm *TxManager) WithTransaction(ctx context.Context, opts *TxOptions, fn func(context.Context, bun.IDB) error) error {
	if opts == nil {
		opts = StandardTxOptions()
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	tx, err := tm.db.BeginTx(timeoutCtx, &sql.TxOptions{
		Isolation: opts.IsolationLevel,
	})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(timeoutCtx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
