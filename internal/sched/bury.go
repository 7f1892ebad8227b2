package sched

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/store"
)

// UnburyKind selects which buried cards to restore.
type UnburyKind int

const (
	UnburyAll UnburyKind = iota
	UnburyManual
	UnburySiblings
)

var allBuried = []domain.Queue{domain.QueueSiblingBuried, domain.QueueManuallyBuried}

func (k UnburyKind) queues() []domain.Queue {
	switch k {
	case UnburyManual:
		return []domain.Queue{domain.QueueManuallyBuried}
	case UnburySiblings:
		return []domain.Queue{domain.QueueSiblingBuried}
	}
	return allBuried
}

// ParseUnburyKind maps all, manual or siblings to its kind.
func ParseUnburyKind(s string) (UnburyKind, error) {
	switch s {
	case "", "all":
		return UnburyAll, nil
	case "manual":
		return UnburyManual, nil
	case "siblings":
		return UnburySiblings, nil
	}
	return 0, fmt.Errorf("invalid unbury kind %q", s)
}

// burySiblings withholds the other cards of an answered card's note for the
// rest of the day. Siblings are always dropped from the session queues; they
// are only buried when the deck options ask for it.
func (s *Session) burySiblings(ctx context.Context, tx store.Store, c *domain.Card, cc cardConfig, now time.Time, res *answerResult) error {
	if c.NoteID == 0 {
		return nil
	}
	sibs, err := tx.QueryCards(ctx, store.CardQuery{
		NoteID:     c.NoteID,
		Queues:     []domain.Queue{domain.QueueNew, domain.QueueReview},
		ExcludeIDs: []int64{c.ID},
	})
	if err != nil {
		return fmt.Errorf("failed to load siblings of card %d: %w", c.ID, err)
	}
	var toBury []*domain.Card
	for _, sib := range sibs {
		if sib.Queue == domain.QueueReview && sib.Due > s.today {
			continue
		}
		res.discard = append(res.discard, sib.ID)
		bury := cc.conf.New.Bury
		if sib.Queue == domain.QueueReview {
			bury = cc.conf.Rev.Bury
		}
		if !bury {
			continue
		}
		res.undo.cards = append(res.undo.cards, sib.Clone())
		sib.Queue = domain.QueueSiblingBuried
		sib.Mod = now.Unix()
		toBury = append(toBury, sib)
	}
	if len(toBury) == 0 {
		return nil
	}
	s.log.Debug("Burying siblings", "card_id", c.ID, "siblings", len(toBury))
	return tx.UpdateCards(ctx, toBury...)
}

// setQueues loads the cards in ids, lets change decide each card's new state
// and writes the changed ones as one undoable step.
func (s *Session) setQueues(ctx context.Context, op string, ids []int64, change func(c *domain.Card) bool) (int, error) {
	var sn snapshots
	var changed []*domain.Card
	now := s.now().Unix()
	err := s.store.Transact(ctx, func(tx store.Store) error {
		cards, err := tx.CardsByID(ctx, ids)
		if err != nil {
			return err
		}
		for _, c := range cards {
			before := c.Clone()
			if !change(c) {
				continue
			}
			sn.add(before)
			c.Mod = now
			changed = append(changed, c)
		}
		if len(changed) == 0 {
			return nil
		}
		return tx.UpdateCards(ctx, changed...)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to %s cards: %w", op, err)
	}
	if len(changed) == 0 {
		return 0, nil
	}
	s.undo = &undoStep{op: op, cards: sn.cards}
	s.dropCurrent(ids)
	s.log.Info("Updated cards", "op", op, "cards", len(changed))
	return len(changed), s.resetQueues(ctx)
}

// Suspend withholds cards from study until they are unsuspended.
func (s *Session) Suspend(ctx context.Context, ids []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setQueues(ctx, "suspend", ids, func(c *domain.Card) bool {
		if c.Queue == domain.QueueSuspended {
			return false
		}
		c.Queue = domain.QueueSuspended
		return true
	})
}

// Unsuspend restores suspended cards to the queue their state implies.
func (s *Session) Unsuspend(ctx context.Context, ids []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setQueues(ctx, "unsuspend", ids, func(c *domain.Card) bool {
		if c.Queue != domain.QueueSuspended {
			return false
		}
		c.Queue = s.restoreQueue(c)
		return true
	})
}

// Bury withholds cards until the next day. Suspended cards are left alone.
func (s *Session) Bury(ctx context.Context, ids []int64, manual bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := domain.QueueSiblingBuried
	if manual {
		queue = domain.QueueManuallyBuried
	}
	return s.setQueues(ctx, "bury", ids, func(c *domain.Card) bool {
		if c.Queue == domain.QueueSuspended || c.Queue == queue {
			return false
		}
		c.Queue = queue
		return true
	})
}

// SetFlag sets the colour flag of cards, keeping the other flag bits.
func (s *Session) SetFlag(ctx context.Context, ids []int64, flag int) (int, error) {
	if flag < 0 || flag > domain.FlagMask {
		return 0, fmt.Errorf("invalid flag %d", flag)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setQueues(ctx, "flag", ids, func(c *domain.Card) bool {
		if c.UserFlag() == flag {
			return false
		}
		c.SetUserFlag(flag)
		return true
	})
}

// unbury restores buried cards in the given decks, or everywhere when
// deckIDs is empty.
func (s *Session) unbury(ctx context.Context, tx store.Store, deckIDs []int64, queues []domain.Queue) ([]*domain.Card, error) {
	cards, err := tx.QueryCards(ctx, store.CardQuery{DeckIDs: deckIDs, Queues: queues})
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, nil
	}
	before := make([]*domain.Card, len(cards))
	now := s.now().Unix()
	for i, c := range cards {
		before[i] = c.Clone()
		c.Queue = s.restoreQueue(c)
		c.Mod = now
	}
	if err := tx.UpdateCards(ctx, cards...); err != nil {
		return nil, err
	}
	s.log.Info("Unburied cards", "cards", len(cards))
	return before, nil
}

// UnburyAll restores every buried card in the collection.
func (s *Session) UnburyAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unburyAndReset(ctx, nil, UnburyAll)
}

// UnburyDeck restores buried cards of the given kind in a deck and its
// children.
func (s *Session) UnburyDeck(ctx context.Context, deckID int64, kind UnburyKind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.arena.Get(deckID); !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownDeck, deckID)
	}
	return s.unburyAndReset(ctx, s.arena.ActiveIDs(deckID), kind)
}

func (s *Session) unburyAndReset(ctx context.Context, deckIDs []int64, kind UnburyKind) (int, error) {
	var before []*domain.Card
	err := s.store.Transact(ctx, func(tx store.Store) error {
		var err error
		before, err = s.unbury(ctx, tx, deckIDs, kind.queues())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to unbury cards: %w", err)
	}
	if len(before) == 0 {
		return 0, nil
	}
	s.undo = &undoStep{op: "unbury", cards: before}
	if s.current != nil && slices.ContainsFunc(before, func(c *domain.Card) bool { return c.ID == s.current.ID }) {
		s.current = nil
	}
	return len(before), s.resetQueues(ctx)
}
