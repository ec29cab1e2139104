package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Rarity tiers, ordered from most to least common.
const (
	RarityCommon    = "common"
	RarityRare      = "rare"
	RarityEpic      = "epic"
	RarityLegendary = "legendary"
)

// Item is a reward that can be drawn from a case or granted by the bonus
// wheel. Items are catalog entities: seeded from configuration at startup and
// never mutated by the economy core. Value is the sell-back/payout price.
type Item struct {
	bun.BaseModel `bun:"table:items,alias:i"`

	ID       string `bun:"id,pk"`
	Name     string `bun:"name,notnull"`
	Rarity   string `bun:"rarity,notnull"`
	Value    int64  `bun:"value,notnull"`
	ImageURL string `bun:"image_url"`

	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// Case is a purchasable pool of weighted items.
type Case struct {
	bun.BaseModel `bun:"table:cases,alias:c"`

	ID    string `bun:"id,pk"`
	Name  string `bun:"name,notnull"`
	Price int64  `bun:"price,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// CaseItem is one weighted slot of a case pool. Position fixes the scan
// order of the weighted draw so outcomes are reproducible for a given seed.
type CaseItem struct {
	bun.BaseModel `bun:"table:case_items,alias:ci"`

	CaseID   string  `bun:"case_id,pk"`
	ItemID   string  `bun:"item_id,pk"`
	Weight   float64 `bun:"weight,notnull"`
	Position int     `bun:"position,notnull"`
}
