package sched

import (
	"errors"
	"fmt"

	"github.com/conorfennell/knoldeck/internal/domain"
)

var (
	// ErrStaleCard is returned when a card changed between being served and
	// being answered. No transition is applied.
	ErrStaleCard = errors.New("card changed since it was served")
	// ErrNotFiltered is returned by filtered-deck operations on a normal deck.
	ErrNotFiltered = errors.New("not a filtered deck")
	// ErrNothingToUndo is returned by Undo when no step is pending.
	ErrNothingToUndo = errors.New("nothing to undo")
	// ErrInvalidEase rejects answers outside 1..4.
	ErrInvalidEase = errors.New("invalid ease")
	// ErrUnknownDeck is returned for deck ids that do not exist.
	ErrUnknownDeck = errors.New("unknown deck")
	// ErrInvariant is matched by every InvariantError.
	ErrInvariant = errors.New("scheduler invariant violated")
)

// InvariantError reports card state the scheduler can never produce, which
// means the stored data is corrupt. The operation is aborted.
type InvariantError struct {
	CardID int64
	Queue  domain.Queue
	Op     string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: card %d has unexpected queue %v", e.Op, e.CardID, e.Queue)
}

// Is makes errors.Is(err, ErrInvariant) match.
func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariant
}
