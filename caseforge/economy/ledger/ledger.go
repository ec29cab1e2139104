// Package ledger applies debits and credits to user balances as single
// conditional updates and appends the immutable audit records that go with
// them.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/caseforge/caseforge/caseforge/database/models"
	"github.com/caseforge/caseforge/caseforge/economy"
)

// Ledger mutates balances. The debit-then-credit of one call is a single
// UPDATE guarded by `balance >= debit`, so two concurrent callers can never
// both pass a balance check that only covers one of them.
type Ledger struct{}

func New() *Ledger {
	return &Ledger{}
}

// Apply debits and credits userID's balance in one conditional update and
// appends the given transaction records in the same store transaction.
// Returns the new balance. Fails with InsufficientFunds when the guard
// matches no row for an existing user, UserNotFound when the account does
// not exist.
func (l *Ledger) Apply(ctx context.Context, db bun.IDB, userID string, debit, credit int64, recs ...*models.TransactionRecord) (int64, error) {
	if debit < 0 || credit < 0 {
		return 0, fmt.Errorf("%w: negative debit %d or credit %d", economy.ErrInvariantViolation, debit, credit)
	}

	now := time.Now()

	var newBalance int64
	_, err := db.NewUpdate().
		Model((*models.UserAccount)(nil)).
		Set("balance = balance - ? + ?", debit, credit).
		Set("updated_at = ?", now).
		Where("user_id = ? AND balance >= ?", userID, debit).
		Returning("balance").
		Exec(ctx, &newBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, l.guardFailure(ctx, db, userID)
		}
		return 0, economy.ClassifyStoreError(err)
	}

	for _, rec := range recs {
		rec.RefID = uuid.NewString()
		rec.UserID = userID
		rec.CreatedAt = now
		if _, err := db.NewInsert().Model(rec).Exec(ctx); err != nil {
			return 0, economy.ClassifyStoreError(fmt.Errorf("failed to append transaction record: %w", err))
		}
	}

	return newBalance, nil
}

// guardFailure disambiguates a zero-row conditional update: either the
// account does not exist, or it exists with too small a balance.
func (l *Ledger) guardFailure(ctx context.Context, db bun.IDB, userID string) error {
	exists, err := db.NewSelect().
		Model((*models.UserAccount)(nil)).
		Where("user_id = ?", userID).
		Exists(ctx)
	if err != nil {
		return economy.ClassifyStoreError(err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", economy.ErrUserNotFound, userID)
	}
	return economy.ErrInsufficientFunds
}

// Append writes an audit record without touching the balance, for
// operations that set the balance through their own guarded update.
func (l *Ledger) Append(ctx context.Context, db bun.IDB, userID string, rec *models.TransactionRecord) error {
	rec.RefID = uuid.NewString()
	rec.UserID = userID
	rec.CreatedAt = time.Now()
	if _, err := db.NewInsert().Model(rec).Exec(ctx); err != nil {
		return economy.ClassifyStoreError(fmt.Errorf("failed to append transaction record: %w", err))
	}
	return nil
}

// Credit is a pure credit; it can never fail the balance guard for an
// existing user.
func (l *Ledger) Credit(ctx context.Context, db bun.IDB, userID string, amount int64, recs ...*models.TransactionRecord) (int64, error) {
	return l.Apply(ctx, db, userID, 0, amount, recs...)
}
