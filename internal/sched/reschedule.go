package sched

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/interval"
	"github.com/conorfennell/knoldeck/internal/store"
)

// bulkUpdate writes cards in pages, checking for cancellation between them.
// A cancelled update rolls back with the rest of the transaction.
func (s *Session) bulkUpdate(ctx context.Context, tx store.Store, cards []*domain.Card) error {
	for page := range slices.Chunk(cards, s.opts.QueuePageSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := tx.UpdateCards(ctx, page...); err != nil {
			return err
		}
	}
	return nil
}

// finishBulk records the undo step and rebuilds the queues.
func (s *Session) finishBulk(ctx context.Context, step *undoStep, n int) (int, error) {
	if n == 0 {
		return 0, nil
	}
	s.undo = step
	if s.current != nil && slices.ContainsFunc(step.cards, func(c *domain.Card) bool { return c.ID == s.current.ID }) {
		s.current = nil
	}
	s.log.Info("Rescheduled cards", "op", step.op, "cards", n)
	return n, s.resetQueues(ctx)
}

// SetDueDate turns cards into review cards due in a random number of days
// between minDays and maxDays. Borrowed cards return to their home deck.
func (s *Session) SetDueDate(ctx context.Context, ids []int64, minDays, maxDays int) (int, error) {
	if minDays < 0 || maxDays < minDays {
		return 0, fmt.Errorf("invalid due range %d-%d", minDays, maxDays)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkDay(ctx); err != nil {
		return 0, err
	}

	var sn snapshots
	err := s.store.Transact(ctx, func(tx store.Store) error {
		cards, err := tx.CardsByID(ctx, ids)
		if err != nil {
			return err
		}
		now := s.now().Unix()
		for _, c := range cards {
			sn.add(c)
			days := minDays + s.rng.Intn(maxDays-minDays+1)
			removeFromFiltered(c)
			c.Type = domain.TypeReview
			c.Queue = domain.QueueReview
			c.Interval = max(1, days)
			c.Due = s.today + int64(days)
			c.Left = 0
			c.OriginalDue = 0
			if c.Factor == 0 {
				c.Factor = domain.DefaultDeckConfig().New.InitialFactor
			}
			c.Mod = now
		}
		return s.bulkUpdate(ctx, tx, cards)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to set due date: %w", err)
	}
	return s.finishBulk(ctx, &undoStep{op: "set due date", cards: sn.cards}, len(sn.cards))
}

// Forget resets cards to new and places them at the end of the new queue.
func (s *Session) Forget(ctx context.Context, ids []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sn snapshots
	col := s.col.Clone()
	err := s.store.Transact(ctx, func(tx store.Store) error {
		cards, err := tx.CardsByID(ctx, ids)
		if err != nil {
			return err
		}
		now := s.now().Unix()
		for _, c := range cards {
			sn.add(c)
			removeFromFiltered(c)
			c.Type = domain.TypeNew
			c.Queue = domain.QueueNew
			c.Interval = 0
			c.Factor = domain.DefaultDeckConfig().New.InitialFactor
			c.Left = 0
			c.Due = col.NextPosition
			col.NextPosition++
			c.Mod = now
		}
		if len(cards) == 0 {
			return nil
		}
		if err := s.bulkUpdate(ctx, tx, cards); err != nil {
			return err
		}
		return tx.SaveCollection(ctx, col)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to forget cards: %w", err)
	}
	step := &undoStep{op: "forget", cards: sn.cards, col: s.col.Clone()}
	if len(sn.cards) > 0 {
		s.col = col
	}
	return s.finishBulk(ctx, step, len(sn.cards))
}

// Reposition gives new cards consecutive positions starting at start,
// stepping by step. Cards of one note share a position. With shift, other
// new cards at or after start move back to make room.
func (s *Session) Reposition(ctx context.Context, ids []int64, start, step int64, shift bool) (int, error) {
	if step < 1 {
		return 0, fmt.Errorf("invalid reposition step %d", step)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var sn snapshots
	col := s.col.Clone()
	err := s.store.Transact(ctx, func(tx store.Store) error {
		cards, err := tx.CardsByID(ctx, ids)
		if err != nil {
			return err
		}
		cards = slices.DeleteFunc(cards, func(c *domain.Card) bool { return c.Type != domain.TypeNew })
		if len(cards) == 0 {
			return nil
		}
		pos := make(map[int64]int64)
		high := start
		for _, c := range cards {
			if _, ok := pos[c.NoteID]; !ok {
				high = start + int64(len(pos))*step
				pos[c.NoteID] = high
			}
		}

		now := s.now().Unix()
		var changed []*domain.Card
		if shift {
			others, err := tx.QueryCards(ctx, store.CardQuery{
				Queues:     []domain.Queue{domain.QueueNew},
				ExcludeIDs: ids,
				Order:      store.ByDue,
			})
			if err != nil {
				return err
			}
			others = slices.DeleteFunc(others, func(c *domain.Card) bool { return c.Due < start })
			if len(others) > 0 {
				by := high - others[0].Due + 1
				for _, c := range others {
					sn.add(c)
					c.Due += by
					c.Mod = now
					high = max(high, c.Due)
				}
				changed = append(changed, others...)
			}
		}
		for _, c := range cards {
			sn.add(c)
			c.Due = pos[c.NoteID]
			c.Mod = now
		}
		changed = append(changed, cards...)
		if err := s.bulkUpdate(ctx, tx, changed); err != nil {
			return err
		}
		col.NextPosition = max(col.NextPosition, high+1)
		return tx.SaveCollection(ctx, col)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reposition cards: %w", err)
	}
	undo := &undoStep{op: "reposition", cards: sn.cards, col: s.col.Clone()}
	if len(sn.cards) > 0 {
		s.col = col
	}
	return s.finishBulk(ctx, undo, len(sn.cards))
}

// NextInterval estimates how long until the card would be shown again after
// ease, without changing anything. Fuzz is not applied.
func (s *Session) NextInterval(ctx context.Context, card *domain.Card, ease domain.Ease) (time.Duration, error) {
	if !ease.IsValid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidEase, int(ease))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkDay(ctx); err != nil {
		return 0, err
	}
	cc, err := s.confs.forCard(ctx, s.store, s.arena, card)
	if err != nil {
		return 0, err
	}
	const day = 24 * time.Hour
	secs := func(n int) time.Duration { return time.Duration(n) * time.Second }
	days := func(n int) time.Duration { return time.Duration(n) * day }

	if cc.previewing() {
		if ease == domain.Again {
			return secs(cc.filtered.PreviewDelay * 60), nil
		}
		return 0, nil
	}

	c := card.Clone()
	switch c.Queue {
	case domain.QueueNew, domain.QueueLearning, domain.QueueDayLearning:
		if c.Queue == domain.QueueNew {
			c.Left = interval.StartingLeft(cc.conf.New.Delays, s.now().Unix(), s.dayCutoff)
		}
		delays := cc.learnDelays(c)
		switch ease {
		case domain.Again:
			return secs(interval.DelayForGrade(delays, len(delays))), nil
		case domain.Hard:
			return secs(interval.DelayForRepeatingGrade(delays, c.Left)), nil
		case domain.Easy:
			return days(interval.Graduating(c, cc.conf.New, true, nil)), nil
		}
		left := c.StepsRemaining() - 1
		if left <= 0 {
			return days(interval.Graduating(c, cc.conf.New, false, nil)), nil
		}
		return secs(interval.DelayForGrade(delays, left)), nil
	case domain.QueueReview:
		if ease == domain.Again {
			if len(cc.conf.Lapse.Delays) > 0 {
				return secs(int(cc.conf.Lapse.Delays[0] * 60)), nil
			}
			return days(interval.Lapse(c.Interval, cc.conf.Lapse)), nil
		}
		if c.IsFiltered() && c.OriginalDue > s.today {
			return days(interval.EarlyReview(c, ease, cc.conf.Rev, s.today)), nil
		}
		return days(interval.Review(c, ease, cc.conf.Rev, s.today, nil)), nil
	}
	return 0, &InvariantError{CardID: c.ID, Queue: c.Queue, Op: "next interval"}
}
