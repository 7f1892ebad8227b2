package domain

import (
	"fmt"
	"time"
)

// Ease is the learner's self-graded recall quality.
type Ease int

const (
	Again Ease = iota + 1
	Hard
	Good
	Easy
)

var easeNames = [...]string{Again: "Again", Hard: "Hard", Good: "Good", Easy: "Easy"}

// IsValid reports whether e is one of the four answer buttons.
func (e Ease) IsValid() bool {
	return e >= Again && e <= Easy
}

func (e Ease) String() string {
	if e.IsValid() {
		return easeNames[e]
	}
	return fmt.Sprintf("Ease(%d)", int(e))
}

// ParseEase accepts either the button number or its name.
func ParseEase(s string) (Ease, error) {
	for e := Again; e <= Easy; e++ {
		if s == easeNames[e] || s == fmt.Sprint(int(e)) {
			return e, nil
		}
	}
	return 0, fmt.Errorf("invalid ease %q", s)
}

// ReviewKind classifies a revlog row.
type ReviewKind int

const (
	ReviewLearn ReviewKind = iota
	ReviewReview
	ReviewRelearn
	ReviewCram
)

func (k ReviewKind) String() string {
	switch k {
	case ReviewLearn:
		return "learn"
	case ReviewReview:
		return "review"
	case ReviewRelearn:
		return "relearn"
	case ReviewCram:
		return "cram"
	}
	return fmt.Sprintf("ReviewKind(%d)", int(k))
}

// RevlogEntry records a single answer. Interval and LastInterval are days
// when positive and seconds when negative.
type RevlogEntry struct {
	ID           int64 // millisecond timestamp
	CardID       int64
	Ease         Ease
	Interval     int
	LastInterval int
	Factor       int
	Taken        time.Duration
	Kind         ReviewKind
}
