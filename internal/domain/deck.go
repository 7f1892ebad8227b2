package domain

import (
	"fmt"
	"strings"
)

// DeckSeparator joins the components of a hierarchical deck name.
const DeckSeparator = "::"

// DefaultDeckID and DefaultConfigID are seeded by the first migration.
const (
	DefaultDeckID   int64 = 1
	DefaultConfigID int64 = 1
)

// DayCounter is a per-day tally that reads as zero once the day has passed.
type DayCounter struct {
	Day   int64
	Count int
}

// For returns the tally for today.
func (d DayCounter) For(today int64) int {
	if d.Day != today {
		return 0
	}
	return d.Count
}

// Add increments the tally for today, restarting it on a new day.
func (d *DayCounter) Add(today int64, n int) {
	if d.Day != today {
		d.Day, d.Count = today, 0
	}
	d.Count += n
}

// FilterOrder decides which matching cards a filtered-deck term takes first.
type FilterOrder int

const (
	OrderOldestModified FilterOrder = iota
	OrderRandom
	OrderSmallestInterval
	OrderLargestInterval
	OrderMostLapses
	OrderAdded
	OrderDuePriority
	OrderDue
)

var filterOrderNames = [...]string{
	OrderOldestModified:   "oldest",
	OrderRandom:           "random",
	OrderSmallestInterval: "smallest-interval",
	OrderLargestInterval:  "largest-interval",
	OrderMostLapses:       "most-lapses",
	OrderAdded:            "added",
	OrderDuePriority:      "due-priority",
	OrderDue:              "due",
}

func (o FilterOrder) String() string {
	if o >= 0 && int(o) < len(filterOrderNames) {
		return filterOrderNames[o]
	}
	return fmt.Sprintf("FilterOrder(%d)", int(o))
}

// ParseFilterOrder maps a name to its order.
func ParseFilterOrder(s string) (FilterOrder, error) {
	for i, name := range filterOrderNames {
		if name == s {
			return FilterOrder(i), nil
		}
	}
	return 0, fmt.Errorf("invalid filter order %q", s)
}

// FilterTerm is one (search, limit, order) clause of a filtered deck.
type FilterTerm struct {
	Search string      `json:"search"`
	Limit  int         `json:"limit"`
	Order  FilterOrder `json:"order"`
}

// Deck is a normal or filtered deck. Normal decks hold cards directly and
// point at a shared DeckConfig; filtered decks borrow cards through Terms.
type Deck struct {
	ID       int64
	Name     string
	Filtered bool
	ConfigID int64

	NewToday    DayCounter
	ReviewToday DayCounter
	LearnToday  DayCounter

	// Per-deck overrides of the config's daily limits. Nil means unset.
	NewLimit    *int
	ReviewLimit *int

	// Filtered-deck settings.
	Terms        []FilterTerm
	Resched      bool
	PreviewDelay int       // minutes
	Delays       []float64 // optional step override, minutes

	Mod int64
}

// Clone returns a deep copy of the deck.
func (d *Deck) Clone() *Deck {
	out := *d
	if d.NewLimit != nil {
		v := *d.NewLimit
		out.NewLimit = &v
	}
	if d.ReviewLimit != nil {
		v := *d.ReviewLimit
		out.ReviewLimit = &v
	}
	out.Terms = append([]FilterTerm(nil), d.Terms...)
	out.Delays = append([]float64(nil), d.Delays...)
	return &out
}

// NameParts splits a deck name into its path components.
func NameParts(name string) []string {
	return strings.Split(name, DeckSeparator)
}

// ParentName returns the name of the immediate parent, or "" for a top-level deck.
func ParentName(name string) string {
	i := strings.LastIndex(name, DeckSeparator)
	if i < 0 {
		return ""
	}
	return name[:i]
}

// NormalizeDeckName trims every path component and drops empty ones.
func NormalizeDeckName(name string) string {
	var parts []string
	for _, p := range NameParts(name) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, DeckSeparator)
}
