package sched

import (
	"context"
	"fmt"
	"strings"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/store"
)

// filteredStart is the due position of the first card moved into a filtered
// deck. Positions are negative so borrowed reviews are always due.
const filteredStart = -100000

// filteredExclusions keeps withheld and already borrowed cards out of every term.
const filteredExclusions = "-is:suspended -is:buried -deck:filtered"

// FilteredOptions are the settings of a filtered deck.
type FilteredOptions struct {
	Terms        []domain.FilterTerm
	Resched      bool
	PreviewDelay int
	Delays       []float64
}

func (s *Session) filteredDeck(id int64) (*domain.Deck, error) {
	d, ok := s.arena.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDeck, id)
	}
	if !d.Filtered {
		return nil, fmt.Errorf("%w: %q", ErrNotFiltered, d.Name)
	}
	return d, nil
}

// RebuildFiltered empties a filtered deck and refills it from its terms. It
// returns the number of cards the deck now holds.
func (s *Session) RebuildFiltered(ctx context.Context, deckID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildFiltered(ctx, deckID)
}

func (s *Session) rebuildFiltered(ctx context.Context, deckID int64) (int, error) {
	d, err := s.filteredDeck(deckID)
	if err != nil {
		return 0, err
	}
	if err := s.checkDay(ctx); err != nil {
		return 0, err
	}

	var sn snapshots
	var moved int
	err = s.store.Transact(ctx, func(tx store.Store) error {
		if _, err := s.emptyFiltered(ctx, tx, d, &sn); err != nil {
			return err
		}
		cards, err := s.gatherFiltered(ctx, tx, d)
		if err != nil {
			return err
		}
		now := s.now().Unix()
		for i, c := range cards {
			sn.add(c)
			moveToFiltered(c, d, int64(filteredStart+i))
			c.Mod = now
		}
		moved = len(cards)
		if moved == 0 {
			return nil
		}
		return tx.UpdateCards(ctx, cards...)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to rebuild filtered deck %q: %w", d.Name, err)
	}

	s.undo = &undoStep{op: "rebuild", cards: sn.cards}
	s.current = nil
	s.log.Info("Rebuilt filtered deck", "deck", d.Name, "cards", moved)
	return moved, s.resetQueues(ctx)
}

// gatherFiltered runs the deck's terms in order. A card matched by an earlier
// term is not taken again.
func (s *Session) gatherFiltered(ctx context.Context, tx store.Store, d *domain.Deck) ([]*domain.Card, error) {
	seen := make(map[int64]bool)
	var out []*domain.Card
	now := s.now().Unix()
	for _, term := range d.Terms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if term.Limit <= 0 {
			continue
		}
		expr := filteredExclusions
		if q := strings.TrimSpace(term.Search); q != "" {
			expr = "(" + q + ") " + filteredExclusions
		}
		cards, err := tx.SearchCards(ctx, store.CardSearch{
			Expr:  expr,
			Order: term.Order,
			Limit: term.Limit,
			Today: s.today,
			Now:   now,
		})
		if err != nil {
			return nil, fmt.Errorf("term %q: %w", term.Search, err)
		}
		if term.Order == domain.OrderRandom {
			s.rng.Shuffle(len(cards), func(i, j int) { cards[i], cards[j] = cards[j], cards[i] })
		}
		taken := 0
		for _, c := range cards {
			if taken >= term.Limit {
				break
			}
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, c)
			taken++
		}
	}
	return out, nil
}

// moveToFiltered borrows a card into d at the given position. Learning cards
// keep their due time when the deck reschedules; in a preview deck every
// card waits in the review queue.
func moveToFiltered(c *domain.Card, d *domain.Deck, pos int64) {
	c.OriginalDeck = c.DeckID
	c.OriginalDue = c.Due
	c.DeckID = d.ID
	if !d.Resched {
		c.Queue = domain.QueueReview
		c.Due = pos
		return
	}
	if c.Queue == domain.QueueLearning || c.Queue == domain.QueueDayLearning {
		return
	}
	c.Due = pos
}

// EmptyFiltered returns every card of a filtered deck to its home deck. It
// returns the number of cards moved; emptying an empty deck moves none.
func (s *Session) EmptyFiltered(ctx context.Context, deckID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.filteredDeck(deckID)
	if err != nil {
		return 0, err
	}

	var sn snapshots
	var n int
	err = s.store.Transact(ctx, func(tx store.Store) error {
		var err error
		n, err = s.emptyFiltered(ctx, tx, d, &sn)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to empty filtered deck %q: %w", d.Name, err)
	}
	if n == 0 {
		return 0, nil
	}
	s.undo = &undoStep{op: "empty", cards: sn.cards}
	s.current = nil
	s.log.Info("Emptied filtered deck", "deck", d.Name, "cards", n)
	return n, s.resetQueues(ctx)
}

func (s *Session) emptyFiltered(ctx context.Context, tx store.Store, d *domain.Deck, sn *snapshots) (int, error) {
	cards, err := tx.QueryCards(ctx, store.CardQuery{DeckIDs: []int64{d.ID}})
	if err != nil {
		return 0, err
	}
	if len(cards) == 0 {
		return 0, nil
	}
	now := s.now().Unix()
	for _, c := range cards {
		sn.add(c)
		restoreFromFiltered(c)
		if c.DeckID == 0 {
			s.log.Warn("Filtered card has no home deck, moving it to the default deck", "card_id", c.ID)
			c.DeckID = domain.DefaultDeckID
		}
		c.Mod = now
	}
	return len(cards), tx.UpdateCards(ctx, cards...)
}

// restoreFromFiltered returns a card home with its original due. Withheld
// cards stay withheld; every other card gets the queue its type implies.
func restoreFromFiltered(c *domain.Card) {
	if c.OriginalDue != 0 {
		c.Due = c.OriginalDue
	}
	c.DeckID = c.OriginalDeck
	c.OriginalDeck = 0
	c.OriginalDue = 0
	if c.Queue >= domain.QueueNew {
		c.Queue = domain.RestoredQueue(c.Type, c.Due)
	}
}
