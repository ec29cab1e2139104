package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"

	"github.com/caseforge/caseforge/caseforge/database/models"
	"github.com/caseforge/caseforge/caseforge/economy"
	"github.com/caseforge/caseforge/caseforge/economy/drop"
)

const catalogCacheSize = 1024

// CaseView is a case with its pool assembled in draw order.
type CaseView struct {
	Case models.Case
	Pool []drop.Entry
}

// CatalogRepository serves the immutable case/item catalog. The catalog is
// seeded once at startup, so cached entries can never go stale.
type CatalogRepository interface {
	Seed(ctx context.Context, items []models.Item, cases []models.Case, caseItems []models.CaseItem) error
	GetCase(ctx context.Context, caseID string) (*CaseView, error)
	GetItem(ctx context.Context, itemID string) (*models.Item, error)
}

type catalogRepository struct {
	db    *bun.DB
	cache *lru.Cache
}

func NewCatalogRepository(db *bun.DB) CatalogRepository {
	cache, _ := lru.New(catalogCacheSize)
	return &catalogRepository{db: db, cache: cache}
}

func (r *catalogRepository) Seed(ctx context.Context, items []models.Item, cases []models.Case, caseItems []models.CaseItem) error {
	start := time.Now()
	now := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for i := range items {
			items[i].CreatedAt = now
			items[i].UpdatedAt = now
		}
		if len(items) == 0 {
			return nil
		}
		_, err := r.db.NewInsert().
			Model(&items).
			On("CONFLICT (id) DO UPDATE").
			Set("name = EXCLUDED.name").
			Set("rarity = EXCLUDED.rarity").
			Set("value = EXCLUDED.value").
			Set("image_url = EXCLUDED.image_url").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(gctx)
		return err
	})
	g.Go(func() error {
		for i := range cases {
			cases[i].CreatedAt = now
			cases[i].UpdatedAt = now
		}
		if len(cases) == 0 {
			return nil
		}
		_, err := r.db.NewInsert().
			Model(&cases).
			On("CONFLICT (id) DO UPDATE").
			Set("name = EXCLUDED.name").
			Set("price = EXCLUDED.price").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to seed catalog: %w", err)
	}

	if len(caseItems) > 0 {
		if _, err := r.db.NewInsert().
			Model(&caseItems).
			On("CONFLICT (case_id, item_id) DO UPDATE").
			Set("weight = EXCLUDED.weight").
			Set("position = EXCLUDED.position").
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to seed case pools: %w", err)
		}
	}

	r.cache.Purge()
	slog.Info("Catalog seeded",
		slog.String("type", "db"),
		slog.Int("items", len(items)),
		slog.Int("cases", len(cases)),
		slog.Duration("took", time.Since(start)))
	return nil
}

func (r *catalogRepository) GetCase(ctx context.Context, caseID string) (*CaseView, error) {
	if cached, ok := r.cache.Get("case:" + caseID); ok {
		return cached.(*CaseView), nil
	}

	c := new(models.Case)
	err := r.db.NewSelect().
		Model(c).
		Where("id = ?", caseID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", economy.ErrCaseNotFound, caseID)
		}
		return nil, economy.ClassifyStoreError(err)
	}

	var slots []models.CaseItem
	if err := r.db.NewSelect().
		Model(&slots).
		Where("case_id = ?", caseID).
		Order("position ASC").
		Scan(ctx); err != nil {
		return nil, economy.ClassifyStoreError(err)
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("%w: case %s has an empty pool", economy.ErrInvalidPool, caseID)
	}

	view := &CaseView{Case: *c, Pool: make([]drop.Entry, 0, len(slots))}
	for _, slot := range slots {
		item, err := r.GetItem(ctx, slot.ItemID)
		if err != nil {
			return nil, err
		}
		view.Pool = append(view.Pool, drop.Entry{Item: *item, Weight: slot.Weight})
	}

	r.cache.Add("case:"+caseID, view)
	return view, nil
}

func (r *catalogRepository) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	if cached, ok := r.cache.Get("item:" + itemID); ok {
		return cached.(*models.Item), nil
	}

	item := new(models.Item)
	err := r.db.NewSelect().
		Model(item).
		Where("id = ?", itemID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", economy.ErrItemNotFound, itemID)
		}
		return nil, economy.ClassifyStoreError(err)
	}

	r.cache.Add("item:"+itemID, item)
	return item, nil
}
