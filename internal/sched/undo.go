package sched

import (
	"context"
	"fmt"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/store"
)

// undoStep is the inverse of the most recent mutation: the state of
// everything it touched, plus the revlog rows it added.
type undoStep struct {
	op     string
	cards  []*domain.Card
	decks  []*domain.Deck
	note   *domain.Note
	col    *domain.Collection
	revlog []int64
	// pending is presented again by the next NextCard.
	pending int64
	// reps is set when the step counted as a session repetition.
	reps bool
}

// snapshots records the first seen state of each card.
type snapshots struct {
	seen  map[int64]bool
	cards []*domain.Card
}

func (sn *snapshots) add(c *domain.Card) {
	if sn.seen == nil {
		sn.seen = make(map[int64]bool)
	}
	if sn.seen[c.ID] {
		return
	}
	sn.seen[c.ID] = true
	sn.cards = append(sn.cards, c.Clone())
}

// UndoName returns the operation Undo would revert, or "" when none is pending.
func (s *Session) UndoName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.undo == nil {
		return ""
	}
	return s.undo.op
}

// Undo reverts the most recent mutation. An undone answer is presented again
// by the next NextCard.
func (s *Session) Undo(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step := s.undo
	if step == nil {
		return "", ErrNothingToUndo
	}
	err := s.store.Transact(ctx, func(tx store.Store) error {
		if len(step.cards) > 0 {
			if err := tx.UpdateCards(ctx, step.cards...); err != nil {
				return err
			}
		}
		for _, d := range step.decks {
			if err := tx.SaveDeck(ctx, d.Clone()); err != nil {
				return err
			}
		}
		if step.note != nil {
			if err := tx.SaveNote(ctx, step.note.Clone()); err != nil {
				return err
			}
		}
		if step.col != nil {
			if err := tx.SaveCollection(ctx, step.col); err != nil {
				return err
			}
		}
		if len(step.revlog) > 0 {
			return tx.RemoveRevlog(ctx, step.revlog...)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to undo %s: %w", step.op, err)
	}

	s.undo = nil
	s.applyDecks(step.decks)
	if step.col != nil {
		s.col = step.col.Clone()
	}
	if step.reps && s.reps > 0 {
		s.reps--
	}
	s.current = nil
	s.pending = step.pending
	s.log.Info("Undid operation", "op", step.op, "cards", len(step.cards))
	if err := s.resetQueues(ctx); err != nil {
		return step.op, err
	}
	return step.op, nil
}
