package models

import (
	"time"

	"github.com/uptrace/bun"
)

// PromoCode mirrors a configured promo code in the store so that usage caps
// can be consumed with a conditional update. RemainingUses < 0 means the
// code is uncapped.
type PromoCode struct {
	bun.BaseModel `bun:"table:promo_codes,alias:pc"`

	Code          string     `bun:"code,pk"`
	Amount        int64      `bun:"amount,notnull"`
	RemainingUses int64      `bun:"remaining_uses,notnull,default:-1"`
	ValidFrom     *time.Time `bun:"valid_from"`
	ValidUntil    *time.Time `bun:"valid_until"`

	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// PromoRedemption is the at-most-once marker for a (user, code) pair. The
// unique index is the enforcement point: a second insert changes no rows.
type PromoRedemption struct {
	bun.BaseModel `bun:"table:promo_redemptions,alias:pr"`

	ID         int64     `bun:"id,pk,autoincrement"`
	UserID     string    `bun:"user_id,notnull,unique:promo_redemptions_user_code_key"`
	Code       string    `bun:"code,notnull,unique:promo_redemptions_user_code_key"`
	RedeemedAt time.Time `bun:"redeemed_at,notnull"`
}
