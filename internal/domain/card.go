package domain

import "fmt"

// CardType is the learning stage a card has reached.
type CardType int

const (
	TypeNew CardType = iota
	TypeLearning
	TypeReview
	TypeRelearning
)

func (t CardType) String() string {
	switch t {
	case TypeNew:
		return "New"
	case TypeLearning:
		return "Learning"
	case TypeReview:
		return "Review"
	case TypeRelearning:
		return "Relearning"
	}
	return fmt.Sprintf("CardType(%d)", int(t))
}

// Queue is the delivery queue a card currently sits in. Negative values
// withhold the card from study.
type Queue int

const (
	QueueManuallyBuried Queue = -3
	QueueSiblingBuried  Queue = -2
	QueueSuspended      Queue = -1
	QueueNew            Queue = 0
	QueueLearning       Queue = 1
	QueueReview         Queue = 2
	QueueDayLearning    Queue = 3
	QueuePreview        Queue = 4
)

func (q Queue) String() string {
	switch q {
	case QueueManuallyBuried:
		return "ManuallyBuried"
	case QueueSiblingBuried:
		return "SiblingBuried"
	case QueueSuspended:
		return "Suspended"
	case QueueNew:
		return "New"
	case QueueLearning:
		return "Learning"
	case QueueReview:
		return "Review"
	case QueueDayLearning:
		return "DayLearning"
	case QueuePreview:
		return "Preview"
	}
	return fmt.Sprintf("Queue(%d)", int(q))
}

// IsBuried reports whether q is one of the two burial queues.
func (q Queue) IsBuried() bool {
	return q == QueueSiblingBuried || q == QueueManuallyBuried
}

// Studyable reports whether q is a queue cards can be delivered from.
func (q Queue) Studyable() bool {
	return q >= QueueNew && q <= QueuePreview
}

// SecondsDueThreshold separates epoch-second due values (intraday learning)
// from day-index due values.
const SecondsDueThreshold = 1_000_000_000

// FlagMask selects the user colour flag bits of Card.Flags.
const FlagMask = 0b111

// Card is a single reviewable item realized from a note template.
type Card struct {
	ID     int64
	NoteID int64
	DeckID int64
	Ord    int
	Mod    int64 // unix seconds of last modification

	Type  CardType
	Queue Queue

	// Due is an epoch-seconds timestamp while in intraday learning or preview,
	// a day index for review and day learning, and a position for new cards.
	Due int64
	// Interval in days once reviewed; negative values are seconds.
	Interval int
	Factor   int // ease factor in permille
	Reps     int
	Lapses   int
	// Left encodes stepsToday*1000 + stepsRemaining.
	Left int

	OriginalDue  int64
	OriginalDeck int64
	Flags        int
}

// Clone returns a copy of the card.
func (c *Card) Clone() *Card {
	out := *c
	return &out
}

// StepsRemaining is the number of learning steps left before graduation.
func (c *Card) StepsRemaining() int {
	return c.Left % 1000
}

// StepsToday is the number of remaining steps that fit before the day cutoff.
func (c *Card) StepsToday() int {
	return c.Left / 1000
}

// IsFiltered reports whether the card is currently borrowed by a filtered deck.
func (c *Card) IsFiltered() bool {
	return c.OriginalDeck != 0
}

// HomeDeck is the deck that owns the card outside any filtered deck.
func (c *Card) HomeDeck() int64 {
	if c.OriginalDeck != 0 {
		return c.OriginalDeck
	}
	return c.DeckID
}

// UserFlag returns the colour flag in the low bits.
func (c *Card) UserFlag() int {
	return c.Flags & FlagMask
}

// SetUserFlag replaces the colour flag, keeping the reserved high bits.
func (c *Card) SetUserFlag(flag int) {
	c.Flags = (c.Flags &^ FlagMask) | (flag & FlagMask)
}

// RestoredQueue computes the queue a withheld card returns to. It never looks
// at the stored queue value: learning types go back to intraday learning when
// due holds an epoch timestamp and to day learning otherwise; everything else
// maps its type directly.
func RestoredQueue(t CardType, due int64) Queue {
	switch t {
	case TypeLearning, TypeRelearning:
		if due > SecondsDueThreshold {
			return QueueLearning
		}
		return QueueDayLearning
	case TypeReview:
		return QueueReview
	}
	return QueueNew
}

// SchedulingEqual reports whether two snapshots of the same card agree on
// every field the scheduler reads before a transition.
func SchedulingEqual(a, b *Card) bool {
	return a.ID == b.ID &&
		a.DeckID == b.DeckID &&
		a.Type == b.Type &&
		a.Queue == b.Queue &&
		a.Due == b.Due &&
		a.Interval == b.Interval &&
		a.Factor == b.Factor &&
		a.Reps == b.Reps &&
		a.Lapses == b.Lapses &&
		a.Left == b.Left &&
		a.OriginalDeck == b.OriginalDeck
}
