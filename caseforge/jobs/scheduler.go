// Package jobs runs the engine's background maintenance: the bonus expiry
// sweep and the daily balance reconciliation against the transaction log.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/caseforge/caseforge/caseforge/database/repositories"
	"github.com/caseforge/caseforge/caseforge/economy"
	"github.com/caseforge/caseforge/caseforge/logger"
)

type Scheduler struct {
	cron            *cron.Cron
	bonuses         repositories.BonusRepository
	users           repositories.UserRepository
	transactions    repositories.TransactionRepository
	startingBalance int64
}

func New(
	bonuses repositories.BonusRepository,
	users repositories.UserRepository,
	transactions repositories.TransactionRepository,
	startingBalance int64,
) *Scheduler {
	return &Scheduler{
		cron:            cron.New(),
		bonuses:         bonuses,
		users:           users,
		transactions:    transactions,
		startingBalance: startingBalance,
	}
}

func (s *Scheduler) Start() {
	// Hourly: sweep expired bonus grants.
	s.cron.AddFunc("0 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.SweepExpiredBonuses(ctx)
	})

	// Daily: replay the audit trail against stored balances.
	s.cron.AddFunc("30 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		s.ReconcileBalances(ctx)
	})

	s.cron.Start()
	logger.LogSystem("Background jobs scheduled")
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.LogSystem("Background jobs stopped")
}

// SweepExpiredBonuses clears the active flag on grants past their expiry.
func (s *Scheduler) SweepExpiredBonuses(ctx context.Context) {
	count, err := s.bonuses.DeactivateExpired(ctx, time.Now())
	if err != nil {
		logger.LogError("Bonus expiry sweep failed", err, slog.String("type", "job"))
		return
	}
	if count > 0 {
		slog.Info("Expired bonus grants deactivated",
			slog.String("type", "job"),
			slog.Int64("count", count))
	}
}

// ReconcileBalances recomputes every balance from the append-only log.
// Stored balance must equal starting balance plus the summed deltas; a
// mismatch means an invariant was violated somewhere and is only logged,
// never silently corrected.
func (s *Scheduler) ReconcileBalances(ctx context.Context) {
	accounts, err := s.users.GetAll(ctx)
	if err != nil {
		logger.LogError("Reconciliation: failed to load accounts", err, slog.String("type", "job"))
		return
	}
	totals, err := s.transactions.SumDeltaByUser(ctx)
	if err != nil {
		logger.LogError("Reconciliation: failed to replay transaction log", err, slog.String("type", "job"))
		return
	}

	var mismatches int
	for _, account := range accounts {
		expected := s.startingBalance + totals[account.UserID]
		if account.Balance != expected {
			mismatches++
			economy.ReconciliationMismatches.Inc()
			logger.LogError("Balance mismatch against transaction log", economy.ErrInvariantViolation,
				slog.String("user_id", account.UserID),
				slog.Int64("stored", account.Balance),
				slog.Int64("expected", expected))
		}
	}

	slog.Info("Balance reconciliation finished",
		slog.String("type", "job"),
		slog.Int("accounts", len(accounts)),
		slog.Int("mismatches", mismatches))
}
