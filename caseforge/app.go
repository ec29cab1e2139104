// Package caseforge wires the loot-box economy engine together: config,
// store, repositories, the transaction coordinator and background jobs.
package caseforge

import (
	"context"
	"time"

	"github.com/caseforge/caseforge/caseforge/database"
	"github.com/caseforge/caseforge/caseforge/database/repositories"
	"github.com/caseforge/caseforge/caseforge/economy/bonus"
	"github.com/caseforge/caseforge/caseforge/economy/coordinator"
	"github.com/caseforge/caseforge/caseforge/economy/drop"
	"github.com/caseforge/caseforge/caseforge/economy/ledger"
	"github.com/caseforge/caseforge/caseforge/economy/promo"
	"github.com/caseforge/caseforge/caseforge/jobs"
	"github.com/caseforge/caseforge/caseforge/progression"
)

type App struct {
	Cfg     *Config
	DB      *database.DB
	Version string
	Commit  string

	Users        repositories.UserRepository
	Catalog      repositories.CatalogRepository
	Inventory    repositories.InventoryRepository
	Bonuses      repositories.BonusRepository
	Promos       repositories.PromoRepository
	Transactions repositories.TransactionRepository

	Coordinator *coordinator.Coordinator
	Locks       *coordinator.LockManager
	Scheduler   *jobs.Scheduler
}

// New builds the full engine on an open database connection.
func New(cfg *Config, db *database.DB, version, commit string) (*App, error) {
	bunDB := db.BunDB()

	app := &App{
		Cfg:          cfg,
		DB:           db,
		Version:      version,
		Commit:       commit,
		Users:        repositories.NewUserRepository(bunDB),
		Catalog:      repositories.NewCatalogRepository(bunDB),
		Inventory:    repositories.NewInventoryRepository(bunDB),
		Bonuses:      repositories.NewBonusRepository(bunDB),
		Promos:       repositories.NewPromoRepository(bunDB),
		Transactions: repositories.NewTransactionRepository(bunDB),
	}

	levels, err := progression.NewTable(cfg.Progression.Thresholds)
	if err != nil {
		return nil, err
	}

	rng := drop.NewLockedRNG(time.Now().UnixNano())
	wheel, err := bonus.NewWheel(cfg.BonusCategories(), rng)
	if err != nil {
		return nil, err
	}

	app.Locks = coordinator.NewLockManager()
	app.Coordinator = coordinator.New(
		app.Locks,
		ledger.NewTxManager(bunDB),
		ledger.New(),
		app.Users,
		app.Catalog,
		app.Bonuses,
		app.Inventory,
		promo.NewLedger(app.Promos),
		drop.NewSelector(rng),
		wheel,
		levels,
		coordinator.Settings{
			StartingBalance: cfg.Engine.StartingBalance,
			SpinFee:         cfg.Engine.SpinFee,
			MaxOpenCount:    cfg.Engine.MaxOpenCount,
			XPPerCoin:       cfg.Engine.XPPerCoin,
		},
	)

	app.Scheduler = jobs.New(app.Bonuses, app.Users, app.Transactions, cfg.Engine.StartingBalance)
	return app, nil
}

// Seed pushes the configured catalog and promo tables into the store.
// Runs once at startup; the tables are immutable afterwards.
func (a *App) Seed(ctx context.Context) error {
	items, cases, caseItems := a.Cfg.CatalogModels()
	if err := a.Catalog.Seed(ctx, items, cases, caseItems); err != nil {
		return err
	}
	return a.Promos.Seed(ctx, a.Cfg.PromoModels())
}

// Start launches background maintenance.
func (a *App) Start(ctx context.Context) {
	a.Locks.StartCleanupRoutine(ctx)
	a.Scheduler.Start()
}

func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
