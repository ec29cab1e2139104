// Package drop implements the weighted random selection every chance
// mechanism in the engine is built on: case pools, bonus categories and
// bonus variants all go through the same generic draw.
package drop

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/caseforge/caseforge/caseforge/database/models"
	"github.com/caseforge/caseforge/caseforge/economy"
)

// RNG is the injected randomness source. *rand.Rand satisfies it; tests
// inject a seeded instance for reproducible outcomes.
type RNG interface {
	Float64() float64
}

// Mode selects how pool weights are interpreted.
type Mode int

const (
	// ModeNormal uses weights exactly as configured.
	ModeNormal Mode = iota
	// ModeDemo boosts rarer tiers so demo spins show more exciting drops.
	ModeDemo
)

func (m Mode) String() string {
	if m == ModeDemo {
		return "demo"
	}
	return "normal"
}

// Demo-mode weight multipliers per rarity tier.
var demoMultipliers = map[string]float64{
	models.RarityCommon:    1,
	models.RarityRare:      2,
	models.RarityEpic:      3,
	models.RarityLegendary: 5,
}

// DemoMultiplier returns the demo-mode weight multiplier for a rarity.
// Unknown rarities fall back to 1.
func DemoMultiplier(rarity string) float64 {
	if m, ok := demoMultipliers[rarity]; ok {
		return m
	}
	return 1
}

// Weighted pairs a value with its draw weight.
type Weighted[T any] struct {
	Value  T
	Weight float64
}

// Pick draws one value from a weighted list. The list must be non-empty
// with every weight > 0. The scan runs in slice order, so a fixed pool
// order plus a seeded RNG yields deterministic results. If floating-point
// drift exhausts the scan, the last entry is returned deterministically.
func Pick[T any](rng RNG, entries []Weighted[T]) (T, error) {
	var zero T
	if len(entries) == 0 {
		return zero, fmt.Errorf("%w: empty pool", economy.ErrInvalidPool)
	}

	var total float64
	for _, e := range entries {
		if e.Weight <= 0 {
			return zero, fmt.Errorf("%w: weight %v is not positive", economy.ErrInvalidPool, e.Weight)
		}
		total += e.Weight
	}

	r := rng.Float64() * total
	for _, e := range entries {
		if r < e.Weight {
			return e.Value, nil
		}
		r -= e.Weight
	}
	return entries[len(entries)-1].Value, nil
}

// Entry is one slot of a case pool.
type Entry struct {
	Item   models.Item
	Weight float64
}

// Selector draws items from case pools.
type Selector struct {
	rng RNG
}

func NewSelector(rng RNG) *Selector {
	return &Selector{rng: rng}
}

// Draw selects one item from the pool. In demo mode each weight is scaled
// by its rarity multiplier before the draw; normal mode uses the configured
// weights unchanged.
func (s *Selector) Draw(pool []Entry, mode Mode) (models.Item, error) {
	weighted := make([]Weighted[models.Item], len(pool))
	for i, e := range pool {
		w := e.Weight
		if mode == ModeDemo && w > 0 {
			w *= DemoMultiplier(e.Item.Rarity)
		}
		weighted[i] = Weighted[models.Item]{Value: e.Item, Weight: w}
	}

	item, err := Pick(s.rng, weighted)
	if err != nil {
		return models.Item{}, err
	}

	economy.DrawsTotal.WithLabelValues(item.Rarity, mode.String()).Inc()
	return item, nil
}

// lockedRNG makes a rand.Rand safe for concurrent draws across users.
type lockedRNG struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewLockedRNG returns a goroutine-safe RNG seeded from src.
func NewLockedRNG(seed int64) RNG {
	return &lockedRNG{rng: rand.New(rand.NewSource(seed))}
}

func (l *lockedRNG) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64()
}
