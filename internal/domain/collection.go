package domain

import (
	"math"
	"time"
)

// NewSpread decides how new cards are mixed with reviews.
type NewSpread int

const (
	NewCardsDistribute NewSpread = iota
	NewCardsLast
	NewCardsFirst
)

// ReviewOrder decides the order of the review queue.
type ReviewOrder int

const (
	ReviewDueThenRandom ReviewOrder = iota
	ReviewDue
	ReviewRandom
	ReviewIntervalAsc
	ReviewIntervalDesc
)

// Collection holds the collection-wide scheduling settings.
type Collection struct {
	Created       time.Time
	RolloverHour  int
	CollapseTime  time.Duration // learn-ahead window
	NewSpread     NewSpread
	DayLearnFirst bool
	ReviewOrder   ReviewOrder
	LastUnburied  int64
	CurrentDeck   int64
	NextPosition  int64
	Mod           int64
}

// Clone returns a copy of the collection settings.
func (c *Collection) Clone() *Collection {
	out := *c
	return &out
}

func (c *Collection) rollover() int {
	h := c.RolloverHour
	if h < 0 {
		h += 24
	}
	return h % 24
}

// Today returns the number of study days elapsed since the collection was
// created, where each day starts at the rollover hour. The creation day is
// day 0 even when the collection was created before that day's rollover.
func (c *Collection) Today(now time.Time) int64 {
	created := c.Created.In(now.Location())
	start := time.Date(created.Year(), created.Month(), created.Day(), c.rollover(), 0, 0, 0, now.Location())
	if created.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	return int64(math.Floor(now.Sub(start).Hours() / 24))
}

// DayCutoff returns the instant the current study day ends.
func (c *Collection) DayCutoff(now time.Time) time.Time {
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), c.rollover(), 0, 0, 0, now.Location())
	if !cutoff.After(now) {
		cutoff = cutoff.AddDate(0, 0, 1)
	}
	return cutoff
}
