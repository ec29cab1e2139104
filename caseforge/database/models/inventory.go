package models

import (
	"time"

	"github.com/uptrace/bun"
)

// InventoryEntry holds one-shot gift items granted by the bonus wheel until
// the user sells them back.
type InventoryEntry struct {
	bun.BaseModel `bun:"table:user_inventory,alias:ui"`

	UserID   string    `bun:"user_id,pk"`
	ItemID   string    `bun:"item_id,pk"`
	Amount   int64     `bun:"amount,notnull,default:1"`
	Acquired time.Time `bun:"acquired,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
