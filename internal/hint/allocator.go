// Package hint picks which hint category to grant next.
package hint

import (
	"math/rand/v2"
	"sync"

	"github.com/dsamentor/mentor/internal/domain"
)

// Allocator selects an unused hint category uniformly at random
type Allocator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewAllocator creates an allocator. A nil source uses the global generator.
func NewAllocator(src rand.Source) *Allocator {
	a := &Allocator{}
	if src != nil {
		a.rng = rand.New(src)
	}
	return a
}

// Remaining returns the categories not yet granted, in canonical order
func Remaining(used []domain.HintCategory) []domain.HintCategory {
	var out []domain.HintCategory
	for _, c := range domain.AllHintCategories() {
		if !domain.ContainsHint(used, c) {
			out = append(out, c)
		}
	}
	return out
}

// Select returns a category not in used, or false when all are used
func (a *Allocator) Select(used []domain.HintCategory) (domain.HintCategory, bool) {
	remaining := Remaining(used)
	if len(remaining) == 0 {
		return "", false
	}
	return remaining[a.intN(len(remaining))], true
}

func (a *Allocator) intN(n int) int {
	if a.rng == nil {
		return rand.IntN(n)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rng.IntN(n)
}
