package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Bonus categories drawn by the wheel.
const (
	BonusCategoryDepositBoost = "deposit-boost"
	BonusCategoryDiscount     = "discount"
	BonusCategoryFreeGift     = "free-gift"
)

// BonusGrant is a timed or one-shot reward from the bonus wheel. A nil
// ExpiresAt marks a one-shot grant that is consumed on first use; timed
// grants expire by timestamp comparison and are swept by a background job.
type BonusGrant struct {
	bun.BaseModel `bun:"table:bonus_grants,alias:bg"`

	ID        int64      `bun:"id,pk,autoincrement"`
	UserID    string     `bun:"user_id,notnull"`
	Category  string     `bun:"category,notnull"`
	Title     string     `bun:"title,notnull"`
	Magnitude float64    `bun:"magnitude,notnull"`
	ExpiresAt *time.Time `bun:"expires_at"`
	Active    bool       `bun:"active,notnull,default:true"`

	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// Expired reports whether a timed grant is past its expiry. One-shot grants
// never expire by time.
func (g *BonusGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && now.After(*g.ExpiresAt)
}
