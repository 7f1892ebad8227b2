// Package decks holds the deck hierarchy: an id-indexed arena with parent
// back-references, hierarchical limit aggregation and deck-name rules.
package decks

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/sahilm/fuzzy"
)

var (
	// ErrFilteredParent rejects placing any deck under a filtered deck.
	ErrFilteredParent = errors.New("filtered decks cannot have child decks")
	// ErrInvalidName rejects empty names and moves under a deck's own subtree.
	ErrInvalidName = errors.New("invalid deck name")
	// ErrDuplicateName rejects a name already used by another deck.
	ErrDuplicateName = errors.New("deck name already exists")
)

// Arena indexes decks by id and keeps parent links derived from names.
// Iteration order is topological: every deck comes after its ancestors.
type Arena struct {
	byID     map[int64]*domain.Deck
	byName   map[string]int64
	parent   map[int64]int64
	children map[int64][]int64
	order    []int64
}

func nameKey(name string) string {
	return strings.ToLower(name)
}

// compareNames orders decks component by component, so a parent sorts
// directly before its subtree.
func compareNames(a, b string) int {
	return slices.Compare(domain.NameParts(nameKey(a)), domain.NameParts(nameKey(b)))
}

// NewArena builds an arena from a flat deck list.
func NewArena(decks []*domain.Deck) *Arena {
	a := &Arena{
		byID:     make(map[int64]*domain.Deck, len(decks)),
		byName:   make(map[string]int64, len(decks)),
		parent:   make(map[int64]int64),
		children: make(map[int64][]int64),
	}
	sorted := slices.Clone(decks)
	slices.SortFunc(sorted, func(x, y *domain.Deck) int { return compareNames(x.Name, y.Name) })
	for _, d := range sorted {
		a.byID[d.ID] = d
		a.byName[nameKey(d.Name)] = d.ID
		a.order = append(a.order, d.ID)
	}
	for _, id := range a.order {
		// Link to the nearest existing ancestor.
		for name := domain.ParentName(a.byID[id].Name); name != ""; name = domain.ParentName(name) {
			if pid, ok := a.byName[nameKey(name)]; ok {
				a.parent[id] = pid
				a.children[pid] = append(a.children[pid], id)
				break
			}
		}
	}
	return a
}

// Get returns the deck with the given id.
func (a *Arena) Get(id int64) (*domain.Deck, bool) {
	d, ok := a.byID[id]
	return d, ok
}

// ByName looks a deck up by its full name, ignoring case.
func (a *Arena) ByName(name string) (*domain.Deck, bool) {
	id, ok := a.byName[nameKey(domain.NormalizeDeckName(name))]
	if !ok {
		return nil, false
	}
	return a.byID[id], true
}

// Parent returns the id of the deck's parent, or 0 for a top-level deck.
func (a *Arena) Parent(id int64) int64 {
	return a.parent[id]
}

// Parents returns the ancestors of a deck, root first.
func (a *Arena) Parents(id int64) []*domain.Deck {
	var out []*domain.Deck
	for p := a.parent[id]; p != 0; p = a.parent[p] {
		out = append(out, a.byID[p])
	}
	slices.Reverse(out)
	return out
}

// Children returns the immediate children of a deck in name order.
func (a *Arena) Children(id int64) []*domain.Deck {
	out := make([]*domain.Deck, 0, len(a.children[id]))
	for _, c := range a.children[id] {
		out = append(out, a.byID[c])
	}
	return out
}

// Active returns the deck followed by all of its descendants, in
// topological order.
func (a *Arena) Active(id int64) []*domain.Deck {
	d, ok := a.byID[id]
	if !ok {
		return nil
	}
	out := []*domain.Deck{d}
	for _, c := range a.children[id] {
		out = append(out, a.Active(c)...)
	}
	return out
}

// ActiveIDs is Active reduced to ids.
func (a *Arena) ActiveIDs(id int64) []int64 {
	active := a.Active(id)
	ids := make([]int64, len(active))
	for i, d := range active {
		ids[i] = d.ID
	}
	return ids
}

// Topo returns every deck, each after its ancestors.
func (a *Arena) Topo() []*domain.Deck {
	out := make([]*domain.Deck, len(a.order))
	for i, id := range a.order {
		out[i] = a.byID[id]
	}
	return out
}

// Roots returns the top-level decks in name order.
func (a *Arena) Roots() []*domain.Deck {
	var out []*domain.Deck
	for _, id := range a.order {
		if a.parent[id] == 0 {
			out = append(out, a.byID[id])
		}
	}
	return out
}

type deckNames []*domain.Deck

func (d deckNames) String(i int) string { return d[i].Name }
func (d deckNames) Len() int            { return len(d) }

// Find returns the decks whose names fuzzily match query, best match first.
func (a *Arena) Find(query string) []*domain.Deck {
	source := deckNames(a.Topo())
	matches := fuzzy.FindFrom(query, source)
	out := make([]*domain.Deck, len(matches))
	for i, m := range matches {
		out[i] = source[m.Index]
	}
	return out
}

// checkAncestors rejects a name whose nearest existing ancestor is filtered.
func (a *Arena) checkAncestors(name string) error {
	for p := domain.ParentName(name); p != ""; p = domain.ParentName(p) {
		if d, ok := a.ByName(p); ok && d.Filtered {
			return fmt.Errorf("%w: %q is filtered", ErrFilteredParent, d.Name)
		}
	}
	return nil
}

// PlanCreate normalizes name and returns it together with the missing
// ancestors that must be created first, root first. An existing deck with
// that name yields no missing decks.
func (a *Arena) PlanCreate(name string) (string, []string, error) {
	name = domain.NormalizeDeckName(name)
	if name == "" {
		return "", nil, ErrInvalidName
	}
	if err := a.checkAncestors(name); err != nil {
		return "", nil, err
	}
	var missing []string
	for p := name; p != ""; p = domain.ParentName(p) {
		if _, ok := a.ByName(p); !ok {
			missing = append(missing, p)
		}
	}
	slices.Reverse(missing)
	return name, missing, nil
}

// Rename is one deck's new name within a rename plan.
type Rename struct {
	Deck    *domain.Deck
	NewName string
}

// PlanRename validates moving a deck to newName and returns the renames of
// the deck and its whole subtree, plus any missing ancestors of the new name.
func (a *Arena) PlanRename(id int64, newName string) ([]Rename, []string, error) {
	d, ok := a.byID[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown deck %d", ErrInvalidName, id)
	}
	name, missing, err := a.PlanCreate(newName)
	if err != nil {
		return nil, nil, err
	}
	if existing, ok := a.ByName(name); ok && existing.ID != id {
		return nil, nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	oldKey := nameKey(d.Name)
	if strings.HasPrefix(nameKey(name), oldKey+domain.DeckSeparator) {
		return nil, nil, fmt.Errorf("%w: cannot move %q under itself", ErrInvalidName, d.Name)
	}

	var plan []Rename
	for _, sub := range a.Active(id) {
		plan = append(plan, Rename{Deck: sub, NewName: name + sub.Name[len(d.Name):]})
	}
	// The deck itself no longer needs creating.
	missing = slices.DeleteFunc(missing, func(m string) bool { return nameKey(m) == nameKey(name) })
	return plan, missing, nil
}
