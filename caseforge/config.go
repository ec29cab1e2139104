package caseforge

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/caseforge/caseforge/caseforge/database"
	"github.com/caseforge/caseforge/caseforge/database/models"
	"github.com/caseforge/caseforge/caseforge/economy/bonus"
)

// LoadConfig reads the TOML configuration, applies environment overrides
// for secrets and validates every game table. The returned config is
// immutable for the life of the process.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log         LogConfig         `toml:"log"`
	DB          database.DBConfig `toml:"db"`
	Engine      EngineConfig      `toml:"engine"`
	Items       []ItemConfig      `toml:"items"`
	Cases       []CaseConfig      `toml:"cases"`
	Progression ProgressionConfig `toml:"progression"`
	Promos      []PromoConfig     `toml:"promos"`
	Bonus       BonusConfig       `toml:"bonus"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	AddSource bool       `toml:"add_source"`
}

type EngineConfig struct {
	StartingBalance int64   `toml:"starting_balance"`
	SpinFee         int64   `toml:"spin_fee"`
	MaxOpenCount    int     `toml:"max_open_count"`
	XPPerCoin       float64 `toml:"xp_per_coin"`
}

type ItemConfig struct {
	ID     string `toml:"id"`
	Name   string `toml:"name"`
	Rarity string `toml:"rarity"`
	Value  int64  `toml:"value"`
	Image  string `toml:"image"`
}

type CaseConfig struct {
	ID    string           `toml:"id"`
	Name  string           `toml:"name"`
	Price int64            `toml:"price"`
	Items []CaseItemConfig `toml:"items"`
}

type CaseItemConfig struct {
	ItemID string  `toml:"item_id"`
	Weight float64 `toml:"weight"`
}

type ProgressionConfig struct {
	Thresholds []int64 `toml:"thresholds"`
}

type PromoConfig struct {
	Code       string     `toml:"code"`
	Amount     int64      `toml:"amount"`
	MaxUses    int64      `toml:"max_uses"` // 0 = uncapped
	ValidFrom  *time.Time `toml:"valid_from"`
	ValidUntil *time.Time `toml:"valid_until"`
}

type BonusConfig struct {
	Categories []BonusCategoryConfig `toml:"categories"`
}

type BonusCategoryConfig struct {
	Name     string               `toml:"name"`
	Weight   float64              `toml:"weight"`
	Variants []BonusVariantConfig `toml:"variants"`
}

type BonusVariantConfig struct {
	Title         string  `toml:"title"`
	Weight        float64 `toml:"weight"`
	Coins         int64   `toml:"coins"`
	ItemID        string  `toml:"item_id"`
	Magnitude     float64 `toml:"magnitude"`
	DurationHours int     `toml:"duration_hours"`
}

// dbOverrides maps environment secrets onto the DB config so credentials
// never have to live in the TOML file.
type dbOverrides struct {
	Host     string `envconfig:"DB_HOST"`
	Port     int    `envconfig:"DB_PORT"`
	User     string `envconfig:"DB_USER"`
	Password string `envconfig:"DB_PASSWORD"`
	Database string `envconfig:"DB_NAME"`
}

func (c *Config) applyEnvOverrides() error {
	var o dbOverrides
	if err := envconfig.Process("caseforge", &o); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}
	if o.Host != "" {
		c.DB.Host = o.Host
	}
	if o.Port != 0 {
		c.DB.Port = o.Port
	}
	if o.User != "" {
		c.DB.User = o.User
	}
	if o.Password != "" {
		c.DB.Password = o.Password
	}
	if o.Database != "" {
		c.DB.Database = o.Database
	}
	return nil
}

var validRarities = map[string]bool{
	models.RarityCommon:    true,
	models.RarityRare:      true,
	models.RarityEpic:      true,
	models.RarityLegendary: true,
}

// Validate checks every game table before the engine starts. A config that
// passes here can never produce an invalid pool at request time.
func (c *Config) Validate() error {
	if c.Engine.StartingBalance < 0 {
		return fmt.Errorf("engine: starting_balance must be >= 0")
	}
	if c.Engine.SpinFee <= 0 {
		return fmt.Errorf("engine: spin_fee must be positive")
	}
	if c.Engine.MaxOpenCount < 1 {
		return fmt.Errorf("engine: max_open_count must be at least 1")
	}
	if c.Engine.XPPerCoin < 0 {
		return fmt.Errorf("engine: xp_per_coin must be >= 0")
	}

	if len(c.Items) == 0 {
		return fmt.Errorf("items: at least one item is required")
	}
	itemIDs := make(map[string]bool, len(c.Items))
	for _, item := range c.Items {
		if item.ID == "" {
			return fmt.Errorf("items: missing id")
		}
		if itemIDs[item.ID] {
			return fmt.Errorf("items: duplicate id %q", item.ID)
		}
		if !validRarities[item.Rarity] {
			return fmt.Errorf("items: %s has unknown rarity %q", item.ID, item.Rarity)
		}
		if item.Value < 0 {
			return fmt.Errorf("items: %s has negative value", item.ID)
		}
		itemIDs[item.ID] = true
	}

	if len(c.Cases) == 0 {
		return fmt.Errorf("cases: at least one case is required")
	}
	caseIDs := make(map[string]bool, len(c.Cases))
	for _, cs := range c.Cases {
		if cs.ID == "" {
			return fmt.Errorf("cases: missing id")
		}
		if caseIDs[cs.ID] {
			return fmt.Errorf("cases: duplicate id %q", cs.ID)
		}
		caseIDs[cs.ID] = true
		if cs.Price < 0 {
			return fmt.Errorf("cases: %s has negative price", cs.ID)
		}
		if len(cs.Items) == 0 {
			return fmt.Errorf("cases: %s has an empty pool", cs.ID)
		}
		for _, slot := range cs.Items {
			if !itemIDs[slot.ItemID] {
				return fmt.Errorf("cases: %s references unknown item %q", cs.ID, slot.ItemID)
			}
			if slot.Weight <= 0 {
				return fmt.Errorf("cases: %s item %s weight must be positive", cs.ID, slot.ItemID)
			}
		}
	}

	if len(c.Progression.Thresholds) == 0 {
		return fmt.Errorf("progression: threshold table is empty")
	}
	var prev int64
	for i, t := range c.Progression.Thresholds {
		if t <= prev {
			return fmt.Errorf("progression: threshold %d at position %d is not ascending", t, i)
		}
		prev = t
	}

	promoCodes := make(map[string]bool, len(c.Promos))
	for _, p := range c.Promos {
		if p.Code == "" {
			return fmt.Errorf("promos: missing code")
		}
		if promoCodes[p.Code] {
			return fmt.Errorf("promos: duplicate code %q", p.Code)
		}
		promoCodes[p.Code] = true
		if p.Amount <= 0 {
			return fmt.Errorf("promos: %s amount must be positive", p.Code)
		}
		if p.MaxUses < 0 {
			return fmt.Errorf("promos: %s max_uses must be >= 0", p.Code)
		}
	}

	if len(c.Bonus.Categories) == 0 {
		return fmt.Errorf("bonus: at least one category is required")
	}
	for _, cat := range c.Bonus.Categories {
		if cat.Weight <= 0 {
			return fmt.Errorf("bonus: category %s weight must be positive", cat.Name)
		}
		if len(cat.Variants) == 0 {
			return fmt.Errorf("bonus: category %s has no variants", cat.Name)
		}
		for _, v := range cat.Variants {
			if v.Weight <= 0 {
				return fmt.Errorf("bonus: variant %s weight must be positive", v.Title)
			}
			if v.DurationHours < 0 {
				return fmt.Errorf("bonus: variant %s duration must be >= 0", v.Title)
			}
			if v.ItemID != "" && !itemIDs[v.ItemID] {
				return fmt.Errorf("bonus: variant %s references unknown item %q", v.Title, v.ItemID)
			}
			if v.DurationHours == 0 && v.Coins <= 0 && v.ItemID == "" {
				return fmt.Errorf("bonus: immediate variant %s grants nothing", v.Title)
			}
			if v.DurationHours > 0 && v.Magnitude <= 0 {
				return fmt.Errorf("bonus: timed variant %s needs a positive magnitude", v.Title)
			}
		}
	}

	return nil
}

// CatalogModels converts the configured tables into their store entities.
func (c *Config) CatalogModels() ([]models.Item, []models.Case, []models.CaseItem) {
	items := make([]models.Item, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, models.Item{
			ID:       item.ID,
			Name:     item.Name,
			Rarity:   item.Rarity,
			Value:    item.Value,
			ImageURL: item.Image,
		})
	}

	cases := make([]models.Case, 0, len(c.Cases))
	var caseItems []models.CaseItem
	for _, cs := range c.Cases {
		cases = append(cases, models.Case{
			ID:    cs.ID,
			Name:  cs.Name,
			Price: cs.Price,
		})
		for pos, slot := range cs.Items {
			caseItems = append(caseItems, models.CaseItem{
				CaseID:   cs.ID,
				ItemID:   slot.ItemID,
				Weight:   slot.Weight,
				Position: pos,
			})
		}
	}
	return items, cases, caseItems
}

// PromoModels converts configured promo codes into store rows; max_uses 0
// becomes the uncapped marker -1.
func (c *Config) PromoModels() []*models.PromoCode {
	codes := make([]*models.PromoCode, 0, len(c.Promos))
	for _, p := range c.Promos {
		remaining := p.MaxUses
		if remaining == 0 {
			remaining = -1
		}
		codes = append(codes, &models.PromoCode{
			Code:          p.Code,
			Amount:        p.Amount,
			RemainingUses: remaining,
			ValidFrom:     p.ValidFrom,
			ValidUntil:    p.ValidUntil,
		})
	}
	return codes
}

// BonusCategories converts the configured wheel tables.
func (c *Config) BonusCategories() []bonus.Category {
	categories := make([]bonus.Category, 0, len(c.Bonus.Categories))
	for _, cat := range c.Bonus.Categories {
		variants := make([]bonus.Variant, 0, len(cat.Variants))
		for _, v := range cat.Variants {
			variants = append(variants, bonus.Variant{
				Title:     v.Title,
				Weight:    v.Weight,
				Coins:     v.Coins,
				ItemID:    v.ItemID,
				Magnitude: v.Magnitude,
				Duration:  time.Duration(v.DurationHours) * time.Hour,
			})
		}
		categories = append(categories, bonus.Category{
			Name:     cat.Name,
			Weight:   cat.Weight,
			Variants: variants,
		})
	}
	return categories
}
