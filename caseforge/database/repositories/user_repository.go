package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/caseforge/caseforge/caseforge/database/models"
	"github.com/caseforge/caseforge/caseforge/economy"
)

type UserRepository interface {
	// GetOrCreate loads the account, creating it with the starting balance
	// on the user's first interaction. Inside a transaction the row comes
	// back locked FOR UPDATE.
	GetOrCreate(ctx context.Context, db bun.IDB, userID string, startingBalance int64) (*models.UserAccount, error)
	GetByUserID(ctx context.Context, userID string) (*models.UserAccount, error)
	UpdateProgress(ctx context.Context, db bun.IDB, userID string, xp int64, level int) error
	// Reset restores the account to its initial defaults and returns the
	// pre-reset state so the caller can record the delta.
	Reset(ctx context.Context, db bun.IDB, userID string, startingBalance int64) (*models.UserAccount, error)
	GetAll(ctx context.Context) ([]*models.UserAccount, error)
}

type userRepository struct {
	db *bun.DB
}

func NewUserRepository(db *bun.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetOrCreate(ctx context.Context, db bun.IDB, userID string, startingBalance int64) (*models.UserAccount, error) {
	if db == nil {
		db = r.db
	}

	account := new(models.UserAccount)
	err := db.NewSelect().
		Model(account).
		Where("user_id = ?", userID).
		For("UPDATE").
		Scan(ctx)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, economy.ClassifyStoreError(err)
	}

	now := time.Now()
	account = &models.UserAccount{
		UserID:    userID,
		Balance:   startingBalance,
		XP:        0,
		Level:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = db.NewInsert().
		Model(account).
		On("CONFLICT (user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, economy.ClassifyStoreError(err)
	}

	// A concurrent creator may have won the conflict; read back the row
	// that actually exists.
	account = new(models.UserAccount)
	if err := db.NewSelect().
		Model(account).
		Where("user_id = ?", userID).
		For("UPDATE").
		Scan(ctx); err != nil {
		return nil, economy.ClassifyStoreError(err)
	}

	slog.Debug("Created user account",
		slog.String("type", "db"),
		slog.String("user_id", userID),
		slog.Int64("balance", account.Balance))
	return account, nil
}

func (r *userRepository) GetByUserID(ctx context.Context, userID string) (*models.UserAccount, error) {
	account := new(models.UserAccount)
	err := r.db.NewSelect().
		Model(account).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", economy.ErrUserNotFound, userID)
		}
		return nil, economy.ClassifyStoreError(err)
	}
	return account, nil
}

func (r *userRepository) UpdateProgress(ctx context.Context, db bun.IDB, userID string, xp int64, level int) error {
	if db == nil {
		db = r.db
	}
	res, err := db.NewUpdate().
		Model((*models.UserAccount)(nil)).
		Set("xp = ?", xp).
		Set("level = ?", level).
		Set("updated_at = ?", time.Now()).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return economy.ClassifyStoreError(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", economy.ErrUserNotFound, userID)
	}
	return nil
}

func (r *userRepository) Reset(ctx context.Context, db bun.IDB, userID string, startingBalance int64) (*models.UserAccount, error) {
	if db == nil {
		db = r.db
	}

	before := new(models.UserAccount)
	err := db.NewSelect().
		Model(before).
		Where("user_id = ?", userID).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", economy.ErrUserNotFound, userID)
		}
		return nil, economy.ClassifyStoreError(err)
	}

	_, err = db.NewUpdate().
		Model((*models.UserAccount)(nil)).
		Set("balance = ?", startingBalance).
		Set("xp = 0").
		Set("level = 1").
		Set("updated_at = ?", time.Now()).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return nil, economy.ClassifyStoreError(err)
	}
	return before, nil
}

func (r *userRepository) GetAll(ctx context.Context) ([]*models.UserAccount, error) {
	var accounts []*models.UserAccount
	err := r.db.NewSelect().
		Model(&accounts).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, economy.ClassifyStoreError(err)
	}
	return accounts, nil
}
