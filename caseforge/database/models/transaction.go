package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Transaction kinds.
const (
	TransactionKindOpen    = "open"
	TransactionKindSpin    = "spin"
	TransactionKindDeposit = "deposit"
	TransactionKindSell    = "sell"
	TransactionKindBonus   = "bonus"
	TransactionKindReset   = "reset"
)

// TransactionRecord is one append-only audit entry. Records are never
// mutated or deleted; replaying every delta for a user must reproduce the
// stored balance.
type TransactionRecord struct {
	bun.BaseModel `bun:"table:transaction_records,alias:tr"`

	ID        int64  `bun:"id,pk,autoincrement"`
	RefID     string `bun:"ref_id,notnull,unique"`
	UserID    string `bun:"user_id,notnull"`
	Kind      string `bun:"kind,notnull"`
	Delta     int64  `bun:"delta,notnull"`
	Reference string `bun:"reference"`

	CreatedAt time.Time `bun:"created_at,notnull"`
}
