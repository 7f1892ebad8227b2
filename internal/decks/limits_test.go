package decks

import (
	"testing"

	"github.com/conorfennell/knoldeck/internal/domain"
)

func confWithLimits(newPerDay, revPerDay int) *domain.DeckConfig {
	conf := domain.DefaultDeckConfig()
	conf.New.PerDay = newPerDay
	conf.Rev.PerDay = revPerDay
	return conf
}

func TestRemaining(t *testing.T) {
	override := 3
	testCases := []struct {
		name     string
		deck     *domain.Deck
		expected Limits
	}{
		{name: "Fresh", deck: &domain.Deck{}, expected: Limits{New: 20, Review: 100}},
		{
			name:     "Counted today",
			deck:     &domain.Deck{NewToday: domain.DayCounter{Day: 14, Count: 5}, ReviewToday: domain.DayCounter{Day: 14, Count: 150}},
			expected: Limits{New: 15, Review: 0},
		},
		{
			name:     "Stale counters",
			deck:     &domain.Deck{NewToday: domain.DayCounter{Day: 13, Count: 20}},
			expected: Limits{New: 20, Review: 100},
		},
		{name: "Override", deck: &domain.Deck{NewLimit: &override}, expected: Limits{New: 3, Review: 100}},
		{name: "Filtered", deck: &domain.Deck{Filtered: true}, expected: Limits{New: 99999, Review: 99999}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Remaining(tc.deck, confWithLimits(20, 100), 14, 99999); got != tc.expected {
				t.Errorf("Expected %+v, but got %+v", tc.expected, got)
			}
		})
	}
}

func TestEffectiveCapsChildrenByAncestors(t *testing.T) {
	a := NewArena([]*domain.Deck{
		{ID: 1, Name: "Lang", ConfigID: 1},
		{ID: 2, Name: "Lang::Spanish", ConfigID: 2},
		{ID: 3, Name: "Lang::Spanish::Verbs", ConfigID: 2},
	})
	confs := map[int64]*domain.DeckConfig{1: confWithLimits(5, 50), 2: confWithLimits(20, 200)}
	got := Effective(a, func(d *domain.Deck) *domain.DeckConfig { return confs[d.ConfigID] }, 0, 99999)

	if got[3] != (Limits{New: 5, Review: 50}) {
		t.Errorf("Expected the grandchild to inherit the root budget, but got %+v", got[3])
	}
	if got[1] != (Limits{New: 5, Review: 50}) {
		t.Errorf("Expected the root's own budget, but got %+v", got[1])
	}
}

func TestAllocateWalksSiblings(t *testing.T) {
	a := NewArena([]*domain.Deck{
		{ID: 1, Name: "Parent"},
		{ID: 2, Name: "Parent::A"},
		{ID: 3, Name: "Parent::B"},
	})
	limits := map[int64]int{1: 10, 2: 8, 3: 8}
	available := map[int64]int{1: 1, 2: 6, 3: 6}

	shares, total, err := Allocate(a, a.Active(1),
		func(d *domain.Deck) int { return limits[d.ID] },
		func(id int64, lim int) (int, error) { return min(lim, available[id]), nil })
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	// Parent takes 1, A takes 6 of the remaining 9, B gets the last 3.
	if shares[1] != 1 || shares[2] != 6 || shares[3] != 3 {
		t.Errorf("Expected shares 1/6/3, but got %v", shares)
	}
	if total != 10 {
		t.Errorf("Expected the parent limit to bound the total at 10, but got %d", total)
	}
}

func TestAllocateSkipsExhaustedDecks(t *testing.T) {
	a := NewArena([]*domain.Deck{{ID: 1, Name: "P"}, {ID: 2, Name: "P::C"}})
	called := false
	_, total, _ := Allocate(a, a.Active(1),
		func(d *domain.Deck) int {
			if d.ID == 1 {
				return 0
			}
			return 10
		},
		func(id int64, lim int) (int, error) {
			called = true
			return lim, nil
		})
	if total != 0 || called {
		t.Errorf("Expected a zero parent budget to block the child, but got total %d", total)
	}
}
