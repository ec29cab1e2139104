// Package promo validates and consumes one-time promotional codes.
package promo

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/caseforge/caseforge/caseforge/database/repositories"
	"github.com/caseforge/caseforge/caseforge/economy"
)

// Ledger redeems promo codes. Redemption always runs inside the caller's
// store transaction so the usage marker, the consumed-use counter and the
// credited bonus commit or vanish together.
type Ledger struct {
	repo repositories.PromoRepository
}

func NewLedger(repo repositories.PromoRepository) *Ledger {
	return &Ledger{repo: repo}
}

// Redeem consumes one use of code for userID and returns the bonus amount
// to credit. Fails with PromoNotFound, PromoExpired, PromoAlreadyUsed or
// PromoExhausted; on any failure nothing inside the transaction sticks.
func (l *Ledger) Redeem(ctx context.Context, db bun.IDB, userID, code string, now time.Time) (int64, error) {
	promo, err := l.repo.GetForUpdate(ctx, db, code)
	if err != nil {
		return 0, err
	}

	if promo.ValidFrom != nil && now.Before(*promo.ValidFrom) {
		return 0, fmt.Errorf("%w: %s is not valid yet", economy.ErrPromoExpired, code)
	}
	if promo.ValidUntil != nil && now.After(*promo.ValidUntil) {
		return 0, fmt.Errorf("%w: %s", economy.ErrPromoExpired, code)
	}

	// The marker insert enforces at-most-once per (user, code); the unique
	// index makes a concurrent duplicate change zero rows.
	inserted, err := l.repo.InsertRedemption(ctx, db, userID, code, now)
	if err != nil {
		return 0, err
	}
	if !inserted {
		return 0, fmt.Errorf("%w: %s", economy.ErrPromoAlreadyUsed, code)
	}

	// Capped codes burn one use with a conditional decrement; remaining
	// uses below zero mean the code is uncapped.
	if promo.RemainingUses >= 0 {
		consumed, err := l.repo.ConsumeUse(ctx, db, code)
		if err != nil {
			return 0, err
		}
		if !consumed {
			return 0, fmt.Errorf("%w: %s", economy.ErrPromoExhausted, code)
		}
	}

	return promo.Amount, nil
}
