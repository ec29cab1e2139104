package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caseforge/caseforge/caseforge"
	"github.com/caseforge/caseforge/caseforge/database"
	"github.com/caseforge/caseforge/caseforge/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := caseforge.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}

	slog.SetDefault(slog.New(logger.NewHandler(cfg.Log.Level)))
	slog.Info("Starting CaseForge economy engine",
		slog.String("version", version),
		slog.String("commit", commit))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbStartTime := time.Now()
	connectCtx, connectCancel := context.WithTimeout(ctx, time.Minute)
	db, err := database.New(connectCtx, cfg.DB)
	connectCancel()
	if err != nil {
		slog.Error("Database connection failed",
			slog.String("error", err.Error()),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}
	slog.Info("Database connected",
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(dbStartTime)))

	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize database schema", slog.Any("error", err))
		db.Close()
		os.Exit(-1)
	}

	app, err := caseforge.New(cfg, db, version, commit)
	if err != nil {
		slog.Error("Failed to build engine", slog.Any("error", err))
		db.Close()
		os.Exit(-1)
	}
	defer app.Close()

	if err := app.Seed(ctx); err != nil {
		slog.Error("Failed to seed game tables", slog.Any("error", err))
		os.Exit(-1)
	}

	app.Start(ctx)
	logger.LogSystem("Engine ready",
		slog.Int("cases", len(cfg.Cases)),
		slog.Int("items", len(cfg.Items)),
		slog.Int("promos", len(cfg.Promos)))

	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-s

	logger.LogSystem("Shutting down")
}
