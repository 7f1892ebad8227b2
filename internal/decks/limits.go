package decks

import "github.com/conorfennell/knoldeck/internal/domain"

// Limits is a deck's remaining budget for the current day.
type Limits struct {
	New    int
	Review int
}

// ConfigFunc resolves the options group of a normal deck.
type ConfigFunc func(*domain.Deck) *domain.DeckConfig

// Remaining returns a single deck's own remaining budget, ignoring its
// ancestors. Filtered decks report unbounded, the given reportLimit.
func Remaining(d *domain.Deck, conf *domain.DeckConfig, today int64, reportLimit int) Limits {
	if d.Filtered {
		return Limits{New: reportLimit, Review: reportLimit}
	}
	newPerDay, revPerDay := conf.New.PerDay, conf.Rev.PerDay
	if d.NewLimit != nil {
		newPerDay = *d.NewLimit
	}
	if d.ReviewLimit != nil {
		revPerDay = *d.ReviewLimit
	}
	return Limits{
		New:    max(0, newPerDay-d.NewToday.For(today)),
		Review: max(0, revPerDay-d.ReviewToday.For(today)),
	}
}

// Effective computes every deck's remaining budget capped by all of its
// ancestors' budgets, walking the arena root to leaf.
func Effective(a *Arena, confFor ConfigFunc, today int64, reportLimit int) map[int64]Limits {
	out := make(map[int64]Limits, len(a.order))
	for _, d := range a.Topo() {
		own := Remaining(d, confFor(d), today, reportLimit)
		if p := a.Parent(d.ID); p != 0 {
			inherited := out[p]
			own.New = min(own.New, inherited.New)
			own.Review = min(own.Review, inherited.Review)
		}
		out[d.ID] = own
	}
	return out
}

// CountFunc reports how many cards deckID can supply, at most limit.
type CountFunc func(deckID int64, limit int) (int, error)

// Allocate walks the active decks in topological order and decides how many
// cards each one contributes. A deck's share is bounded by its own limit and
// by what its ancestors have left after earlier siblings took theirs.
func Allocate(a *Arena, active []*domain.Deck, limit func(*domain.Deck) int, count CountFunc) (map[int64]int, int, error) {
	budget := make(map[int64]int)
	shares := make(map[int64]int)
	total := 0
	for _, d := range active {
		lim := limit(d)
		if lim <= 0 {
			continue
		}
		parents := a.Parents(d.ID)
		for _, p := range parents {
			if _, ok := budget[p.ID]; !ok {
				budget[p.ID] = limit(p)
			}
			lim = min(lim, budget[p.ID])
		}
		if lim <= 0 {
			budget[d.ID] = 0
			continue
		}
		n, err := count(d.ID, lim)
		if err != nil {
			return nil, 0, err
		}
		for _, p := range parents {
			budget[p.ID] -= n
		}
		budget[d.ID] = lim - n
		shares[d.ID] = n
		total += n
	}
	return shares, total, nil
}
