package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/caseforge/caseforge/caseforge/database/models"
	"github.com/caseforge/caseforge/caseforge/economy"
)

type PromoRepository interface {
	// Seed inserts configured codes, leaving already-present rows alone so
	// consumed usage counters survive restarts.
	Seed(ctx context.Context, codes []*models.PromoCode) error
	// GetForUpdate loads a code locked FOR UPDATE inside the redemption
	// transaction.
	GetForUpdate(ctx context.Context, db bun.IDB, code string) (*models.PromoCode, error)
	// InsertRedemption writes the (user, code) marker. Returns false when
	// the marker already exists.
	InsertRedemption(ctx context.Context, db bun.IDB, userID, code string, now time.Time) (bool, error)
	// ConsumeUse decrements the remaining-uses counter of a capped code.
	// Returns false when no uses remain. Uncapped codes always succeed.
	ConsumeUse(ctx context.Context, db bun.IDB, code string) (bool, error)
}

type promoRepository struct {
	db *bun.DB
}

func NewPromoRepository(db *bun.DB) PromoRepository {
	return &promoRepository{db: db}
}

func (r *promoRepository) Seed(ctx context.Context, codes []*models.PromoCode) error {
	if len(codes) == 0 {
		return nil
	}
	now := time.Now()
	for _, c := range codes {
		c.CreatedAt = now
		c.UpdatedAt = now
	}
	_, err := r.db.NewInsert().
		Model(&codes).
		On("CONFLICT (code) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed promo codes: %w", err)
	}
	return nil
}

func (r *promoRepository) GetForUpdate(ctx context.Context, db bun.IDB, code string) (*models.PromoCode, error) {
	if db == nil {
		db = r.db
	}
	promo := new(models.PromoCode)
	err := db.NewSelect().
		Model(promo).
		Where("code = ?", code).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", economy.ErrPromoNotFound, code)
		}
		return nil, economy.ClassifyStoreError(err)
	}
	return promo, nil
}

func (r *promoRepository) InsertRedemption(ctx context.Context, db bun.IDB, userID, code string, now time.Time) (bool, error) {
	if db == nil {
		db = r.db
	}
	res, err := db.NewInsert().
		Model(&models.PromoRedemption{
			UserID:     userID,
			Code:       code,
			RedeemedAt: now,
		}).
		On("CONFLICT (user_id, code) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, economy.ClassifyStoreError(err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (r *promoRepository) ConsumeUse(ctx context.Context, db bun.IDB, code string) (bool, error) {
	if db == nil {
		db = r.db
	}
	res, err := db.NewUpdate().
		Model((*models.PromoCode)(nil)).
		Set("remaining_uses = remaining_uses - 1").
		Set("updated_at = ?", time.Now()).
		Where("code = ? AND remaining_uses > 0", code).
		Exec(ctx)
	if err != nil {
		return false, economy.ClassifyStoreError(err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}
