package progression

import (
	"errors"
	"testing"

	"github.com/caseforge/caseforge/caseforge/economy"
)

func mustTable(t *testing.T, thresholds []int64) *Table {
	t.Helper()
	table, err := NewTable(thresholds)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	return table
}

func TestNewTable_Validation(t *testing.T) {
	tests := []struct {
		name       string
		thresholds []int64
	}{
		{name: "Empty", thresholds: nil},
		{name: "Zero first threshold", thresholds: []int64{0, 100}},
		{name: "Not ascending", thresholds: []int64{100, 100, 200}},
		{name: "Descending", thresholds: []int64{200, 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTable(tt.thresholds); !errors.Is(err, economy.ErrValidation) {
				t.Errorf("NewTable() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestTable_Thresholds(t *testing.T) {
	table := mustTable(t, []int64{100, 250, 500})

	if got := table.MaxLevel(); got != 4 {
		t.Errorf("MaxLevel() = %d, want 4", got)
	}
	if got := table.ThresholdFor(1); got != 0 {
		t.Errorf("ThresholdFor(1) = %d, want 0", got)
	}
	if got := table.ThresholdFor(3); got != 250 {
		t.Errorf("ThresholdFor(3) = %d, want 250", got)
	}
}

func TestTable_Advance(t *testing.T) {
	table := mustTable(t, []int64{100, 250, 500})

	tests := []struct {
		name   string
		level  int
		xp     int64
		amount int64
		want   Result
	}{
		{
			name: "Below first threshold", level: 1, xp: 0, amount: 99,
			want: Result{Level: 1, XP: 99, LeveledUp: false},
		},
		{
			name: "Exact threshold crosses", level: 1, xp: 0, amount: 100,
			want: Result{Level: 2, XP: 100, LeveledUp: true},
		},
		{
			name: "Single grant crosses several levels", level: 1, xp: 0, amount: 600,
			want: Result{Level: 4, XP: 600, LeveledUp: true},
		},
		{
			name: "Split grants equal one big grant", level: 2, xp: 150, amount: 100,
			want: Result{Level: 3, XP: 250, LeveledUp: true},
		},
		{
			name: "Zero amount is a no-op", level: 2, xp: 150, amount: 0,
			want: Result{Level: 2, XP: 150, LeveledUp: false},
		},
		{
			name: "XP accumulates past the terminal level", level: 4, xp: 600, amount: 1000,
			want: Result{Level: 4, XP: 1600, LeveledUp: false},
		},
		{
			name: "Level below one is normalized", level: 0, xp: 0, amount: 50,
			want: Result{Level: 1, XP: 50, LeveledUp: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.Advance(tt.level, tt.xp, tt.amount)
			if err != nil {
				t.Fatalf("Advance() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Advance() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTable_AdvanceNegativeAmount(t *testing.T) {
	table := mustTable(t, []int64{100})
	if _, err := table.Advance(1, 0, -1); !errors.Is(err, economy.ErrValidation) {
		t.Errorf("Advance() error = %v, want ErrValidation", err)
	}
}

// The same total XP always lands on the same level no matter how it was
// earned, so level stays a pure function of lifetime XP.
func TestTable_LevelIsFunctionOfTotalXP(t *testing.T) {
	table := mustTable(t, []int64{100, 250, 500, 1000})

	grants := [][]int64{
		{700},
		{350, 350},
		{100, 100, 100, 100, 100, 100, 100},
		{1, 699},
	}

	for _, split := range grants {
		level, xp := 1, int64(0)
		for _, g := range split {
			res, err := table.Advance(level, xp, g)
			if err != nil {
				t.Fatalf("Advance() error = %v", err)
			}
			level, xp = res.Level, res.XP
		}
		if xp != 700 || level != 4 {
			t.Errorf("split %v ended at level %d xp %d, want level 4 xp 700", split, level, xp)
		}
	}
}
