package drop

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/caseforge/caseforge/caseforge/database/models"
	"github.com/caseforge/caseforge/caseforge/economy"
)

// seqRNG replays a fixed sequence of values.
type seqRNG struct {
	vals []float64
	i    int
}

func (s *seqRNG) Float64() float64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

func TestPick_Boundaries(t *testing.T) {
	entries := []Weighted[string]{
		{Value: "a", Weight: 1},
		{Value: "b", Weight: 1},
		{Value: "c", Weight: 2},
	}

	tests := []struct {
		name string
		r    float64
		want string
	}{
		{name: "Zero lands on first", r: 0, want: "a"},
		{name: "First boundary is exclusive", r: 0.25, want: "b"},
		{name: "Near one lands on last", r: 0.999999, want: "c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Pick(&seqRNG{vals: []float64{tt.r}}, entries)
			if err != nil {
				t.Fatalf("Pick() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Pick() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPick_InvalidPool(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	tests := []struct {
		name    string
		entries []Weighted[string]
	}{
		{name: "Empty pool", entries: nil},
		{name: "Zero weight", entries: []Weighted[string]{{Value: "a", Weight: 0}}},
		{name: "Negative weight", entries: []Weighted[string]{{Value: "a", Weight: 1}, {Value: "b", Weight: -2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Pick(rng, tt.entries); !errors.Is(err, economy.ErrInvalidPool) {
				t.Errorf("Pick() error = %v, want ErrInvalidPool", err)
			}
		})
	}
}

func TestPick_Distribution(t *testing.T) {
	entries := []Weighted[string]{
		{Value: "common", Weight: 50},
		{Value: "rare", Weight: 30},
		{Value: "epic", Weight: 20},
	}

	const n = 100_000
	rng := rand.New(rand.NewSource(42))
	counts := map[string]int{}
	for i := 0; i < n; i++ {
		v, err := Pick(rng, entries)
		if err != nil {
			t.Fatalf("Pick() error = %v", err)
		}
		counts[v]++
	}

	want := map[string]float64{"common": 0.50, "rare": 0.30, "epic": 0.20}
	for name, p := range want {
		got := float64(counts[name]) / n
		if math.Abs(got-p) > 0.02 {
			t.Errorf("frequency of %s = %.4f, want %.2f ± 0.02", name, got, p)
		}
	}
}

func TestPick_Deterministic(t *testing.T) {
	entries := []Weighted[int]{
		{Value: 1, Weight: 1},
		{Value: 2, Weight: 2},
		{Value: 3, Weight: 3},
	}

	draw := func(seed int64) []int {
		rng := rand.New(rand.NewSource(seed))
		out := make([]int, 20)
		for i := range out {
			out[i], _ = Pick(rng, entries)
		}
		return out
	}

	a, b := draw(7), draw(7)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("draw %d differs: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestSelector_DemoShiftsRareTiers(t *testing.T) {
	pool := []Entry{
		{Item: models.Item{ID: "c1", Rarity: models.RarityCommon}, Weight: 90},
		{Item: models.Item{ID: "l1", Rarity: models.RarityLegendary}, Weight: 10},
	}

	const n = 100_000
	freq := func(mode Mode, seed int64) float64 {
		s := NewSelector(rand.New(rand.NewSource(seed)))
		hits := 0
		for i := 0; i < n; i++ {
			item, err := s.Draw(pool, mode)
			if err != nil {
				t.Fatalf("Draw() error = %v", err)
			}
			if item.Rarity == models.RarityLegendary {
				hits++
			}
		}
		return float64(hits) / n
	}

	normal := freq(ModeNormal, 1)
	demo := freq(ModeDemo, 2)

	// Normal: 10/100. Demo: the legendary weight is scaled x5, 50/140.
	if math.Abs(normal-0.10) > 0.02 {
		t.Errorf("normal legendary frequency = %.4f, want 0.10 ± 0.02", normal)
	}
	if math.Abs(demo-50.0/140.0) > 0.02 {
		t.Errorf("demo legendary frequency = %.4f, want %.4f ± 0.02", demo, 50.0/140.0)
	}
}

func TestDemoMultiplier_UnknownRarity(t *testing.T) {
	if got := DemoMultiplier("mythic"); got != 1 {
		t.Errorf("DemoMultiplier(mythic) = %v, want 1", got)
	}
}
