// Package coordinator orchestrates one user action — open case, spin,
// deposit, sell, reset — as a single atomic unit: per-user exclusive scope,
// precondition validation, an ordered sequence of execute steps inside one
// store transaction, and commit or full rollback.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/caseforge/caseforge/caseforge/database/models"
	"github.com/caseforge/caseforge/caseforge/database/repositories"
	"github.com/caseforge/caseforge/caseforge/economy"
	"github.com/caseforge/caseforge/caseforge/economy/bonus"
	"github.com/caseforge/caseforge/caseforge/economy/drop"
	"github.com/caseforge/caseforge/caseforge/economy/ledger"
	"github.com/caseforge/caseforge/caseforge/logger"
	"github.com/caseforge/caseforge/caseforge/progression"
)

const (
	maxTxAttempts = 3
	retryBackoff  = 50 * time.Millisecond
)

// TxRunner runs a function inside one store transaction; a returned error
// discards every mutation made through the passed bun.IDB.
type TxRunner interface {
	WithTransaction(ctx context.Context, opts *ledger.TxOptions, fn func(context.Context, bun.IDB) error) error
}

// Ledger applies guarded balance mutations and appends audit records.
type Ledger interface {
	Apply(ctx context.Context, db bun.IDB, userID string, debit, credit int64, recs ...*models.TransactionRecord) (int64, error)
	Credit(ctx context.Context, db bun.IDB, userID string, amount int64, recs ...*models.TransactionRecord) (int64, error)
	Append(ctx context.Context, db bun.IDB, userID string, rec *models.TransactionRecord) error
}

// PromoRedeemer consumes one promo code use inside the caller's transaction.
type PromoRedeemer interface {
	Redeem(ctx context.Context, db bun.IDB, userID, code string, now time.Time) (int64, error)
}

// Wheel draws bonus results.
type Wheel interface {
	Spin() (bonus.Result, error)
}

// Settings are the engine knobs fixed at startup.
type Settings struct {
	StartingBalance int64
	SpinFee         int64
	MaxOpenCount    int
	XPPerCoin       float64
}

type Coordinator struct {
	locks     *LockManager
	tx        TxRunner
	ledger    Ledger
	users     repositories.UserRepository
	catalog   repositories.CatalogRepository
	bonuses   repositories.BonusRepository
	inventory repositories.InventoryRepository
	promos    PromoRedeemer
	selector  *drop.Selector
	wheel     Wheel
	levels    *progression.Table
	settings  Settings
}

func New(
	locks *LockManager,
	tx TxRunner,
	ldg Ledger,
	users repositories.UserRepository,
	catalog repositories.CatalogRepository,
	bonuses repositories.BonusRepository,
	inventory repositories.InventoryRepository,
	promos PromoRedeemer,
	selector *drop.Selector,
	wheel Wheel,
	levels *progression.Table,
	settings Settings,
) *Coordinator {
	return &Coordinator{
		locks:     locks,
		tx:        tx,
		ledger:    ldg,
		users:     users,
		catalog:   catalog,
		bonuses:   bonuses,
		inventory: inventory,
		promos:    promos,
		selector:  selector,
		wheel:     wheel,
		levels:    levels,
		settings:  settings,
	}
}

// run wraps one operation in the per-user exclusive scope and a store
// transaction, retrying retryable failures a bounded number of times.
func (c *Coordinator) run(ctx context.Context, kind, userID string, opts *ledger.TxOptions, fn func(context.Context, bun.IDB) error) error {
	start := time.Now()

	err := c.locks.Acquire(ctx, userID)
	if err == nil {
		defer c.locks.Release(userID)
		for attempt := 0; ; attempt++ {
			err = c.tx.WithTransaction(ctx, opts, fn)
			if err == nil || !economy.Retryable(err) || attempt >= maxTxAttempts-1 {
				break
			}
			time.Sleep(retryBackoff << attempt)
		}
	}

	economy.TransactionsTotal.WithLabelValues(kind, economy.Kind(err)).Inc()
	economy.TransactionDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	logger.LogTransaction(kind, userID, time.Since(start), err)
	return err
}

// OpenCaseResult is the outcome of one OpenCase call.
type OpenCaseResult struct {
	Items      []models.Item
	NewBalance int64
	XPGained   int64
	Level      int
	LeveledUp  bool
}

// OpenCase opens a case count times. All draws and their economic effect
// commit as ONE atomic transaction: the debit of price*count, the credit of
// every drawn item's value, one audit record per draw, and the XP/level
// advance either all land or none do. Demo mode draws with boosted rare
// weights, moves no balance and writes no records.
func (c *Coordinator) OpenCase(ctx context.Context, userID, caseID string, count int, demo bool) (*OpenCaseResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", economy.ErrValidation)
	}
	if count < 1 || count > c.settings.MaxOpenCount {
		return nil, fmt.Errorf("%w: count %d outside 1..%d", economy.ErrValidation, count, c.settings.MaxOpenCount)
	}

	view, err := c.catalog.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	if demo {
		return c.openDemo(ctx, userID, view, count)
	}

	result := &OpenCaseResult{}
	err = c.run(ctx, models.TransactionKindOpen, userID, ledger.StandardTxOptions(), func(ctx context.Context, tx bun.IDB) error {
		account, err := c.users.GetOrCreate(ctx, tx, userID, c.settings.StartingBalance)
		if err != nil {
			return err
		}

		debit := view.Case.Price * int64(count)
		if account.Balance < debit {
			return economy.ErrInsufficientFunds
		}

		items := make([]models.Item, 0, count)
		recs := make([]*models.TransactionRecord, 0, count)
		var credit int64
		for i := 0; i < count; i++ {
			item, err := c.selector.Draw(view.Pool, drop.ModeNormal)
			if err != nil {
				return err
			}
			items = append(items, item)
			credit += item.Value
			recs = append(recs, &models.TransactionRecord{
				Kind:      models.TransactionKindOpen,
				Delta:     item.Value - view.Case.Price,
				Reference: caseID + "/" + item.ID,
			})
		}

		newBalance, err := c.ledger.Apply(ctx, tx, userID, debit, credit, recs...)
		if err != nil {
			return err
		}

		xpGained := int64(float64(debit) * c.settings.XPPerCoin)
		adv, err := c.levels.Advance(account.Level, account.XP, xpGained)
		if err != nil {
			return err
		}
		if xpGained > 0 {
			if err := c.users.UpdateProgress(ctx, tx, userID, adv.XP, adv.Level); err != nil {
				return err
			}
		}

		result.Items = items
		result.NewBalance = newBalance
		result.XPGained = xpGained
		result.Level = adv.Level
		result.LeveledUp = adv.LeveledUp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Coordinator) openDemo(ctx context.Context, userID string, view *repositories.CaseView, count int) (*OpenCaseResult, error) {
	account, err := c.users.GetOrCreate(ctx, nil, userID, c.settings.StartingBalance)
	if err != nil {
		return nil, err
	}

	items := make([]models.Item, 0, count)
	for i := 0; i < count; i++ {
		item, err := c.selector.Draw(view.Pool, drop.ModeDemo)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return &OpenCaseResult{
		Items:      items,
		NewBalance: account.Balance,
		Level:      account.Level,
	}, nil
}

// SpinResult is the outcome of one bonus wheel spin.
type SpinResult struct {
	Category      string
	Title         string
	Value         int64
	Magnitude     float64
	DurationHours int
	NewBalance    int64
}

// Spin debits the fixed wheel fee, draws a bonus and applies it: immediate
// variants credit coins or grant a gift item on the spot, timed variants
// persist a BonusGrant with expiry now+duration. Insufficient balance
// aborts before any draw.
func (c *Coordinator) Spin(ctx context.Context, userID string) (*SpinResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", economy.ErrValidation)
	}

	result := &SpinResult{}
	err := c.run(ctx, models.TransactionKindSpin, userID, ledger.StandardTxOptions(), func(ctx context.Context, tx bun.IDB) error {
		account, err := c.users.GetOrCreate(ctx, tx, userID, c.settings.StartingBalance)
		if err != nil {
			return err
		}
		if account.Balance < c.settings.SpinFee {
			return economy.ErrInsufficientFunds
		}

		newBalance, err := c.ledger.Apply(ctx, tx, userID, c.settings.SpinFee, 0, &models.TransactionRecord{
			Kind:      models.TransactionKindSpin,
			Delta:     -c.settings.SpinFee,
			Reference: "bonus-wheel",
		})
		if err != nil {
			return err
		}

		res, err := c.wheel.Spin()
		if err != nil {
			return err
		}
		variant := res.Variant

		now := time.Now()
		if variant.Immediate() {
			if variant.Coins > 0 {
				newBalance, err = c.ledger.Credit(ctx, tx, userID, variant.Coins, &models.TransactionRecord{
					Kind:      models.TransactionKindBonus,
					Delta:     variant.Coins,
					Reference: variant.Title,
				})
				if err != nil {
					return err
				}
			}
			if variant.ItemID != "" {
				if _, err := c.catalog.GetItem(ctx, variant.ItemID); err != nil {
					return err
				}
				if err := c.inventory.Add(ctx, tx, userID, variant.ItemID, 1); err != nil {
					return err
				}
			}
		} else {
			expiry := now.Add(variant.Duration)
			if err := c.bonuses.Insert(ctx, tx, &models.BonusGrant{
				UserID:    userID,
				Category:  res.Category,
				Title:     variant.Title,
				Magnitude: variant.Magnitude,
				ExpiresAt: &expiry,
				Active:    true,
			}); err != nil {
				return err
			}
		}

		result.Category = res.Category
		result.Title = variant.Title
		result.Value = variant.Coins
		result.Magnitude = variant.Magnitude
		result.DurationHours = int(variant.Duration / time.Hour)
		result.NewBalance = newBalance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DepositResult is the outcome of one Deposit call.
type DepositResult struct {
	NewBalance    int64
	BonusReceived int64
}

// Deposit credits an already-validated amount. An active deposit-boost
// grant amplifies the credit (the highest-magnitude one applies; one-shot
// grants are consumed in the same transaction). A supplied promo code is
// redeemed atomically with the credit; any promo failure fails the whole
// deposit so the caller can retry without the code.
func (c *Coordinator) Deposit(ctx context.Context, userID string, amount int64, promoCode string) (*DepositResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", economy.ErrValidation)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: deposit amount %d must be positive", economy.ErrValidation, amount)
	}

	// Promo redemption is a read-modify-write across the code, marker and
	// account rows, so it runs under serializable isolation. Serialization
	// failures surface as retryable and go back through the retry loop.
	opts := ledger.StandardTxOptions()
	if promoCode != "" {
		opts = ledger.SerializableTxOptions()
	}

	result := &DepositResult{}
	err := c.run(ctx, models.TransactionKindDeposit, userID, opts, func(ctx context.Context, tx bun.IDB) error {
		if _, err := c.users.GetOrCreate(ctx, tx, userID, c.settings.StartingBalance); err != nil {
			return err
		}

		now := time.Now()
		credit := amount
		var bonusReceived int64

		boosts, err := c.bonuses.ActiveByCategory(ctx, tx, userID, models.BonusCategoryDepositBoost, now)
		if err != nil {
			return err
		}
		if best := bestBoost(boosts); best != nil {
			boostAmount := int64(float64(amount) * best.Magnitude / 100)
			credit += boostAmount
			bonusReceived += boostAmount
			if best.ExpiresAt == nil {
				if err := c.bonuses.Deactivate(ctx, tx, best.ID); err != nil {
					return err
				}
			}
		}

		reference := "deposit"
		if promoCode != "" {
			promoAmount, err := c.promos.Redeem(ctx, tx, userID, promoCode, now)
			if err != nil {
				return err
			}
			credit += promoAmount
			bonusReceived += promoAmount
			reference = promoCode
		}

		newBalance, err := c.ledger.Credit(ctx, tx, userID, credit, &models.TransactionRecord{
			Kind:      models.TransactionKindDeposit,
			Delta:     credit,
			Reference: reference,
		})
		if err != nil {
			return err
		}

		result.NewBalance = newBalance
		result.BonusReceived = bonusReceived
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func bestBoost(grants []*models.BonusGrant) *models.BonusGrant {
	var best *models.BonusGrant
	for _, g := range grants {
		if best == nil || g.Magnitude > best.Magnitude {
			best = g
		}
	}
	return best
}

// SellResult is the outcome of one SellGift call.
type SellResult struct {
	NewBalance int64
}

// SellGift sells one copy of a gift item from the user's inventory back
// for its catalog value.
func (c *Coordinator) SellGift(ctx context.Context, userID, itemID string) (*SellResult, error) {
	if userID == "" || itemID == "" {
		return nil, fmt.Errorf("%w: empty user or item id", economy.ErrValidation)
	}

	item, err := c.catalog.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	result := &SellResult{}
	err = c.run(ctx, models.TransactionKindSell, userID, ledger.StandardTxOptions(), func(ctx context.Context, tx bun.IDB) error {
		if _, err := c.users.GetOrCreate(ctx, tx, userID, c.settings.StartingBalance); err != nil {
			return err
		}
		if err := c.inventory.Remove(ctx, tx, userID, itemID, 1); err != nil {
			return err
		}
		newBalance, err := c.ledger.Credit(ctx, tx, userID, item.Value, &models.TransactionRecord{
			Kind:      models.TransactionKindSell,
			Delta:     item.Value,
			Reference: itemID,
		})
		if err != nil {
			return err
		}
		result.NewBalance = newBalance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ResetResult is the post-reset account state.
type ResetResult struct {
	Balance int64
	XP      int64
	Level   int
}

// ResetAccount restores a user to the configured initial defaults. The
// audit record's delta keeps the replayed transaction log consistent with
// the stored balance.
func (c *Coordinator) ResetAccount(ctx context.Context, userID string) (*ResetResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", economy.ErrValidation)
	}

	result := &ResetResult{}
	err := c.run(ctx, models.TransactionKindReset, userID, ledger.StandardTxOptions(), func(ctx context.Context, tx bun.IDB) error {
		before, err := c.users.Reset(ctx, tx, userID, c.settings.StartingBalance)
		if err != nil {
			return err
		}
		if err := c.ledger.Append(ctx, tx, userID, &models.TransactionRecord{
			Kind:      models.TransactionKindReset,
			Delta:     c.settings.StartingBalance - before.Balance,
			Reference: "admin-reset",
		}); err != nil {
			return err
		}
		result.Balance = c.settings.StartingBalance
		result.XP = 0
		result.Level = 1
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetAccount returns a read-only snapshot, creating the account on first
// interaction like every other entry point.
func (c *Coordinator) GetAccount(ctx context.Context, userID string) (*models.UserAccount, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", economy.ErrValidation)
	}
	return c.users.GetOrCreate(ctx, nil, userID, c.settings.StartingBalance)
}
