package hint

import (
	"math/rand/v2"
	"testing"

	"github.com/dsamentor/mentor/internal/domain"
)

func TestAllocator_NeverRepeats(t *testing.T) {
	a := NewAllocator(rand.NewPCG(1, 2))

	var used []domain.HintCategory
	for i := 0; i < 4; i++ {
		c, ok := a.Select(used)
		if !ok {
			t.Fatalf("Select() exhausted after %d picks", i)
		}
		if domain.ContainsHint(used, c) {
			t.Fatalf("Select() returned used category %q", c)
		}
		used = append(used, c)
	}

	if c, ok := a.Select(used); ok {
		t.Errorf("Select() = %q; want none once all four are used", c)
	}
}

func TestAllocator_PicksOnlyRemaining(t *testing.T) {
	a := NewAllocator(rand.NewPCG(7, 7))
	used := []domain.HintCategory{domain.HintStructural, domain.HintPseudoLogic, domain.HintComplexity}

	for i := 0; i < 20; i++ {
		c, ok := a.Select(used)
		if !ok || c != domain.HintEdgeCases {
			t.Fatalf("Select() = %q, %v; want Edge-Cases", c, ok)
		}
	}
}

func TestAllocator_CoversAllCategories(t *testing.T) {
	a := NewAllocator(rand.NewPCG(42, 99))
	seen := make(map[domain.HintCategory]bool)

	for i := 0; i < 200; i++ {
		c, _ := a.Select(nil)
		seen[c] = true
	}
	if len(seen) != 4 {
		t.Errorf("saw %d categories over 200 draws; want 4", len(seen))
	}
}

func TestAllocator_SameSeedSameChoice(t *testing.T) {
	a := NewAllocator(rand.NewPCG(3, 4))
	b := NewAllocator(rand.NewPCG(3, 4))

	for i := 0; i < 10; i++ {
		x, _ := a.Select(nil)
		y, _ := b.Select(nil)
		if x != y {
			t.Fatalf("draw %d: %q != %q with identical seeds", i, x, y)
		}
	}
}

func TestAllocator_NilSource(t *testing.T) {
	a := NewAllocator(nil)
	c, ok := a.Select([]domain.HintCategory{domain.HintStructural})
	if !ok || c == domain.HintStructural {
		t.Errorf("Select() = %q, %v", c, ok)
	}
}

func TestRemaining(t *testing.T) {
	got := Remaining([]domain.HintCategory{domain.HintEdgeCases})
	want := []domain.HintCategory{domain.HintStructural, domain.HintPseudoLogic, domain.HintComplexity}
	if len(got) != len(want) {
		t.Fatalf("Remaining() = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Remaining()[%d] = %q; want %q", i, got[i], want[i])
		}
	}
}
