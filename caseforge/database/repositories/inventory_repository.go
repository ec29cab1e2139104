package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/caseforge/caseforge/caseforge/database/models"
	"github.com/caseforge/caseforge/caseforge/economy"
)

type InventoryRepository interface {
	// Add upserts amount copies of an item into the user's inventory.
	Add(ctx context.Context, db bun.IDB, userID, itemID string, amount int64) error
	// Remove decrements the user's holding, deleting the row when it hits
	// zero. Fails with ItemNotFound when the user does not own enough.
	Remove(ctx context.Context, db bun.IDB, userID, itemID string, amount int64) error
	List(ctx context.Context, userID string) ([]*models.InventoryEntry, error)
}

type inventoryRepository struct {
	db *bun.DB
}

func NewInventoryRepository(db *bun.DB) InventoryRepository {
	return &inventoryRepository{db: db}
}

func (r *inventoryRepository) Add(ctx context.Context, db bun.IDB, userID, itemID string, amount int64) error {
	if db == nil {
		db = r.db
	}
	now := time.Now()

	res, err := db.NewUpdate().
		Model((*models.InventoryEntry)(nil)).
		Set("amount = amount + ?", amount).
		Set("updated_at = ?", now).
		Where("user_id = ? AND item_id = ?", userID, itemID).
		Exec(ctx)
	if err != nil {
		return economy.ClassifyStoreError(fmt.Errorf("failed to update inventory amount: %w", err))
	}

	if affected, _ := res.RowsAffected(); affected == 0 {
		_, err = db.NewInsert().
			Model(&models.InventoryEntry{
				UserID:    userID,
				ItemID:    itemID,
				Amount:    amount,
				Acquired:  now,
				CreatedAt: now,
				UpdatedAt: now,
			}).
			Exec(ctx)
		if err != nil {
			return economy.ClassifyStoreError(fmt.Errorf("failed to add inventory entry: %w", err))
		}
	}

	return nil
}

func (r *inventoryRepository) Remove(ctx context.Context, db bun.IDB, userID, itemID string, amount int64) error {
	if db == nil {
		db = r.db
	}

	res, err := db.NewUpdate().
		Model((*models.InventoryEntry)(nil)).
		Set("amount = amount - ?", amount).
		Set("updated_at = ?", time.Now()).
		Where("user_id = ? AND item_id = ? AND amount >= ?", userID, itemID, amount).
		Exec(ctx)
	if err != nil {
		return economy.ClassifyStoreError(fmt.Errorf("failed to remove from inventory: %w", err))
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s not held by user %s", economy.ErrItemNotFound, itemID, userID)
	}

	// Drop emptied rows so listings stay clean.
	_, err = db.NewDelete().
		Model((*models.InventoryEntry)(nil)).
		Where("user_id = ? AND item_id = ? AND amount <= 0", userID, itemID).
		Exec(ctx)
	if err != nil {
		return economy.ClassifyStoreError(err)
	}
	return nil
}

func (r *inventoryRepository) List(ctx context.Context, userID string) ([]*models.InventoryEntry, error) {
	var entries []*models.InventoryEntry
	err := r.db.NewSelect().
		Model(&entries).
		Where("user_id = ?", userID).
		Order("acquired ASC").
		Scan(ctx)
	if err != nil {
		return nil, economy.ClassifyStoreError(err)
	}
	return entries, nil
}
