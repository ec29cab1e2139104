package repositories

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/caseforge/caseforge/caseforge/database/models"
	"github.com/caseforge/caseforge/caseforge/economy"
)

type BonusRepository interface {
	Insert(ctx context.Context, db bun.IDB, grant *models.BonusGrant) error
	// ActiveByCategory returns the user's active, unexpired grants of one
	// category, locked FOR UPDATE so a concurrent consumer cannot double
	// apply a one-shot grant.
	ActiveByCategory(ctx context.Context, db bun.IDB, userID, category string, now time.Time) ([]*models.BonusGrant, error)
	Deactivate(ctx context.Context, db bun.IDB, ids ...int64) error
	// DeactivateExpired clears the active flag on every grant past its
	// expiry. Run from the background sweep.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

type bonusRepository struct {
	db *bun.DB
}

func NewBonusRepository(db *bun.DB) BonusRepository {
	return &bonusRepository{db: db}
}

func (r *bonusRepository) Insert(ctx context.Context, db bun.IDB, grant *models.BonusGrant) error {
	if db == nil {
		db = r.db
	}
	now := time.Now()
	grant.CreatedAt = now
	grant.UpdatedAt = now
	if _, err := db.NewInsert().Model(grant).Exec(ctx); err != nil {
		return economy.ClassifyStoreError(err)
	}
	return nil
}

func (r *bonusRepository) ActiveByCategory(ctx context.Context, db bun.IDB, userID, category string, now time.Time) ([]*models.BonusGrant, error) {
	if db == nil {
		db = r.db
	}
	var grants []*models.BonusGrant
	err := db.NewSelect().
		Model(&grants).
		Where("user_id = ? AND category = ? AND active = TRUE", userID, category).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("created_at ASC").
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return nil, economy.ClassifyStoreError(err)
	}
	return grants, nil
}

func (r *bonusRepository) Deactivate(ctx context.Context, db bun.IDB, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	if db == nil {
		db = r.db
	}
	_, err := db.NewUpdate().
		Model((*models.BonusGrant)(nil)).
		Set("active = FALSE").
		Set("updated_at = ?", time.Now()).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return economy.ClassifyStoreError(err)
	}
	return nil
}

func (r *bonusRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.NewUpdate().
		Model((*models.BonusGrant)(nil)).
		Set("active = FALSE").
		Set("updated_at = ?", now).
		Where("active = TRUE AND expires_at IS NOT NULL AND expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return 0, economy.ClassifyStoreError(err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
