package repositories

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/caseforge/caseforge/caseforge/database/models"
	"github.com/caseforge/caseforge/caseforge/economy"
)

// TransactionRepository reads the append-only audit trail. Writes go
// through the ledger only.
type TransactionRepository interface {
	RecentByUser(ctx context.Context, userID string, limit int) ([]*models.TransactionRecord, error)
	// SumDeltaByUser replays the whole log into per-user totals, for
	// balance reconciliation.
	SumDeltaByUser(ctx context.Context) (map[string]int64, error)
}

type transactionRepository struct {
	db *bun.DB
}

func NewTransactionRepository(db *bun.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) RecentByUser(ctx context.Context, userID string, limit int) ([]*models.TransactionRecord, error) {
	var records []*models.TransactionRecord
	err := r.db.NewSelect().
		Model(&records).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, economy.ClassifyStoreError(err)
	}
	return records, nil
}

func (r *transactionRepository) SumDeltaByUser(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		UserID string `bun:"user_id"`
		Total  int64  `bun:"total"`
	}
	err := r.db.NewSelect().
		Model((*models.TransactionRecord)(nil)).
		ColumnExpr("user_id, SUM(delta) AS total").
		GroupExpr("user_id").
		Scan(ctx, &rows)
	if err != nil {
		return nil, economy.ClassifyStoreError(err)
	}

	totals := make(map[string]int64, len(rows))
	for _, row := range rows {
		totals[row.UserID] = row.Total
	}
	return totals, nil
}
