// Package progression converts XP gains into level advancement against a
// fixed ascending threshold table.
package progression

import (
	"fmt"

	"github.com/caseforge/caseforge/caseforge/economy"
)

// Table holds the cumulative XP required per level. thresholds[0] is the
// XP needed to reach level 2; growth stops at the last entry.
type Table struct {
	thresholds []int64
}

// NewTable validates and builds a threshold table. Thresholds must be
// positive and strictly ascending.
func NewTable(thresholds []int64) (*Table, error) {
	if len(thresholds) == 0 {
		return nil, fmt.Errorf("%w: empty level threshold table", economy.ErrValidation)
	}
	var prev int64
	for i, t := range thresholds {
		if t <= prev {
			return nil, fmt.Errorf("%w: threshold %d for level %d is not ascending", economy.ErrValidation, t, i+2)
		}
		prev = t
	}
	out := make([]int64, len(thresholds))
	copy(out, thresholds)
	return &Table{thresholds: out}, nil
}

// MaxLevel is the terminal level; XP keeps accumulating past it but the
// level no longer advances.
func (t *Table) MaxLevel() int {
	return len(t.thresholds) + 1
}

// ThresholdFor returns the cumulative XP required to reach level. Level 1
// requires nothing.
func (t *Table) ThresholdFor(level int) int64 {
	if level <= 1 {
		return 0
	}
	return t.thresholds[level-2]
}

// Result is the outcome of one XP grant.
type Result struct {
	Level     int
	XP        int64
	LeveledUp bool
}

// Advance adds amount to xp and walks the threshold table, crossing as many
// levels as the new total covers. amount must be >= 0; amount == 0 is a
// no-op with LeveledUp=false.
func (t *Table) Advance(level int, xp int64, amount int64) (Result, error) {
	if amount < 0 {
		return Result{}, fmt.Errorf("%w: negative xp amount %d", economy.ErrValidation, amount)
	}
	if level < 1 {
		level = 1
	}

	newXP := xp + amount
	newLevel := level
	for newLevel < t.MaxLevel() && newXP >= t.ThresholdFor(newLevel+1) {
		newLevel++
	}

	return Result{
		Level:     newLevel,
		XP:        newXP,
		LeveledUp: newLevel > level,
	}, nil
}
