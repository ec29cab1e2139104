// Package bonus implements the two-stage bonus wheel: a weighted category
// draw followed by a weighted variant draw inside the chosen category.
package bonus

import (
	"fmt"
	"time"

	"github.com/caseforge/caseforge/caseforge/economy"
	"github.com/caseforge/caseforge/caseforge/economy/drop"
)

// Variant is one possible outcome inside a category. A zero Duration marks
// an immediate effect (coin credit or gift item); a non-zero Duration
// becomes a timed BonusGrant.
type Variant struct {
	Title     string
	Weight    float64
	Coins     int64
	ItemID    string
	Magnitude float64
	Duration  time.Duration
}

// Immediate reports whether the variant applies on the spot instead of
// persisting a grant.
func (v Variant) Immediate() bool {
	return v.Duration == 0
}

// Category is one weighted slice of the wheel.
type Category struct {
	Name     string
	Weight   float64
	Variants []Variant
}

// Result is the outcome of one wheel spin.
type Result struct {
	Category string
	Variant  Variant
}

// Wheel draws bonus results. The tables are fixed at construction and the
// draws run through the same generic weighted selection as case pools.
type Wheel struct {
	categories []Category
	rng        drop.RNG
}

func NewWheel(categories []Category, rng drop.RNG) (*Wheel, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("%w: no bonus categories", economy.ErrInvalidPool)
	}
	for _, c := range categories {
		if c.Weight <= 0 {
			return nil, fmt.Errorf("%w: category %s weight %v", economy.ErrInvalidPool, c.Name, c.Weight)
		}
		if len(c.Variants) == 0 {
			return nil, fmt.Errorf("%w: category %s has no variants", economy.ErrInvalidPool, c.Name)
		}
		for _, v := range c.Variants {
			if v.Weight <= 0 {
				return nil, fmt.Errorf("%w: variant %s weight %v", economy.ErrInvalidPool, v.Title, v.Weight)
			}
		}
	}
	return &Wheel{categories: categories, rng: rng}, nil
}

// Spin draws a category, then a variant within it.
func (w *Wheel) Spin() (Result, error) {
	catEntries := make([]drop.Weighted[Category], len(w.categories))
	for i, c := range w.categories {
		catEntries[i] = drop.Weighted[Category]{Value: c, Weight: c.Weight}
	}
	category, err := drop.Pick(w.rng, catEntries)
	if err != nil {
		return Result{}, err
	}

	varEntries := make([]drop.Weighted[Variant], len(category.Variants))
	for i, v := range category.Variants {
		varEntries[i] = drop.Weighted[Variant]{Value: v, Weight: v.Weight}
	}
	variant, err := drop.Pick(w.rng, varEntries)
	if err != nil {
		return Result{}, err
	}

	return Result{Category: category.Name, Variant: variant}, nil
}
