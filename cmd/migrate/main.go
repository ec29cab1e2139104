// Command migrate creates the CaseForge schema and seeds the game
// tables from a config file, without starting the engine. Useful for
// provisioning a fresh database before first boot.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/caseforge/caseforge/caseforge"
	"github.com/caseforge/caseforge/caseforge/database"
	"github.com/caseforge/caseforge/caseforge/database/repositories"
	"github.com/caseforge/caseforge/caseforge/logger"
)

func main() {
	path := flag.String("config", "config.toml", "path to config")
	seed := flag.Bool("seed", true, "seed items, cases and promo codes after creating the schema")
	flag.Parse()

	cfg, err := caseforge.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}

	slog.SetDefault(slog.New(logger.NewHandler(cfg.Log.Level)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := database.New(ctx, cfg.DB)
	if err != nil {
		slog.Error("Failed to connect to database", slog.Any("error", err))
		os.Exit(-1)
	}
	defer db.Close()

	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to create schema", slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Schema created")

	if !*seed {
		return
	}

	items, cases, caseItems := cfg.CatalogModels()
	catalog := repositories.NewCatalogRepository(db.BunDB())
	if err := catalog.Seed(ctx, items, cases, caseItems); err != nil {
		slog.Error("Failed to seed catalog", slog.Any("error", err))
		os.Exit(-1)
	}

	promos := repositories.NewPromoRepository(db.BunDB())
	if err := promos.Seed(ctx, cfg.PromoModels()); err != nil {
		slog.Error("Failed to seed promo codes", slog.Any("error", err))
		os.Exit(-1)
	}

	slog.Info("Seed completed",
		slog.Int("items", len(items)),
		slog.Int("cases", len(cases)),
		slog.Int("promos", len(cfg.Promos)))
}
