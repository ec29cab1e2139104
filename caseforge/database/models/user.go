package models

import (
	"time"

	"github.com/uptrace/bun"
)

// UserAccount is the economy-owned view of a user. It is created on the
// user's first interaction and mutated only through the ledger and the
// progression service. Balance is whole currency units and never negative.
type UserAccount struct {
	bun.BaseModel `bun:"table:user_accounts,alias:ua"`

	ID      int64  `bun:"id,pk,autoincrement"`
	UserID  string `bun:"user_id,notnull,unique"`
	Balance int64  `bun:"balance,notnull,default:0"`
	XP      int64  `bun:"xp,notnull,default:0"`
	Level   int    `bun:"level,notnull,default:1"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
