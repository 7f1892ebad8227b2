package sched

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/conorfennell/knoldeck/internal/decks"
	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/store"
)

// servedIn reports whether the served card sits in queue q of deck d or one
// of its descendants, in which case it already used one unit of d's budget.
func (s *Session) servedIn(d *domain.Deck, q domain.Queue) int {
	c := s.current
	if c == nil || c.Queue != q {
		return 0
	}
	if c.DeckID == d.ID {
		return 1
	}
	for _, p := range s.arena.Parents(c.DeckID) {
		if p.ID == d.ID {
			return 1
		}
	}
	return 0
}

// allocate decides how many new or review cards each active deck supplies.
func (s *Session) allocate(ctx context.Context, q domain.Queue) (map[int64]int, int, error) {
	confs, err := s.confs.confsFor(ctx, s.store, s.arena.Topo())
	if err != nil {
		return nil, 0, err
	}
	limit := func(d *domain.Deck) int {
		lim := decks.Remaining(d, confs[d.ID], s.today, s.opts.ReportLimit)
		if q == domain.QueueNew {
			return lim.New - s.servedIn(d, q)
		}
		return lim.Review - s.servedIn(d, q)
	}
	query := store.CardQuery{Queues: []domain.Queue{q}, ExcludeIDs: s.excluded()}
	if q == domain.QueueReview {
		query.DueAtMost = store.DueAtMost(s.today)
	}
	count := func(deckID int64, lim int) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		query.DeckIDs = []int64{deckID}
		n, err := s.store.CountCards(ctx, query)
		return min(n, lim), err
	}
	return decks.Allocate(s.arena, s.activeDecks(), limit, count)
}

// learnCount counts intraday learning and preview cards due before the
// learn-ahead cutoff, and day learning cards due today.
func (s *Session) learnCount(ctx context.Context) (int, error) {
	ids := s.activeIDs()
	queries := []store.CardQuery{
		{DeckIDs: ids, Queues: []domain.Queue{domain.QueueLearning}, DueAtMost: store.DueAtMost(s.lrnCutoff - 1)},
		{DeckIDs: ids, Queues: []domain.Queue{domain.QueueDayLearning}, DueAtMost: store.DueAtMost(s.today)},
		{DeckIDs: ids, Queues: []domain.Queue{domain.QueuePreview}, DueAtMost: store.DueAtMost(s.lrnCutoff - 1)},
	}
	total := 0
	for _, q := range queries {
		q.ExcludeIDs = s.excluded()
		n, err := s.store.CountCards(ctx, q)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// recount recomputes all three counts from the store.
func (s *Session) recount(ctx context.Context) error {
	_, newCount, err := s.allocate(ctx, domain.QueueNew)
	if err != nil {
		return fmt.Errorf("failed to count new cards: %w", err)
	}
	_, revCount, err := s.allocate(ctx, domain.QueueReview)
	if err != nil {
		return fmt.Errorf("failed to count review cards: %w", err)
	}
	lrnCount, err := s.learnCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to count learning cards: %w", err)
	}
	s.counts = Counts{New: newCount, Learn: lrnCount, Review: revCount}
	return nil
}

// updateLrnCutoff moves the learn-ahead cutoff forward once it is more than
// a minute stale, and reports whether it moved.
func (s *Session) updateLrnCutoff(force bool) bool {
	next := s.now().Unix() + s.collapseSeconds()
	if next-s.lrnCutoff > 60 || force {
		s.lrnCutoff = next
		return true
	}
	return false
}

func (s *Session) maybeResetLrn(ctx context.Context, force bool) error {
	if !s.updateLrnCutoff(force) {
		return nil
	}
	s.lrnQueue = nil
	s.lrnDayQueue = nil
	return s.recount(ctx)
}

func (s *Session) fillLrn(ctx context.Context) (bool, error) {
	if s.counts.Learn == 0 {
		return false, nil
	}
	if len(s.lrnQueue) > 0 {
		return true, nil
	}
	cards, err := s.store.QueryCards(ctx, store.CardQuery{
		DeckIDs:    s.activeIDs(),
		Queues:     []domain.Queue{domain.QueueLearning, domain.QueuePreview},
		DueAtMost:  store.DueAtMost(s.now().Unix() + s.collapseSeconds() - 1),
		ExcludeIDs: s.excluded(),
		Order:      store.ByDue,
		Limit:      s.opts.ReportLimit,
	})
	if err != nil {
		return false, fmt.Errorf("failed to fill learning queue: %w", err)
	}
	for _, c := range cards {
		s.lrnQueue = append(s.lrnQueue, lrnEntry{due: c.Due, id: c.ID})
	}
	slices.SortFunc(s.lrnQueue, compareLrn)
	return len(s.lrnQueue) > 0, nil
}

func compareLrn(a, b lrnEntry) int {
	if c := cmp.Compare(a.due, b.due); c != 0 {
		return c
	}
	return cmp.Compare(a.id, b.id)
}

// sortIntoLrn inserts a card after every entry due at or before it.
func (s *Session) sortIntoLrn(due, id int64) {
	i := 0
	for i < len(s.lrnQueue) && s.lrnQueue[i].due <= due {
		i++
	}
	s.lrnQueue = slices.Insert(s.lrnQueue, i, lrnEntry{due: due, id: id})
}

func (s *Session) fillLrnDay(ctx context.Context) (bool, error) {
	if s.counts.Learn == 0 {
		return false, nil
	}
	if len(s.lrnDayQueue) > 0 {
		return true, nil
	}
	for _, d := range s.activeDecks() {
		if err := ctx.Err(); err != nil {
			s.lrnDayQueue = nil
			return false, err
		}
		cards, err := s.store.QueryCards(ctx, store.CardQuery{
			DeckIDs:    []int64{d.ID},
			Queues:     []domain.Queue{domain.QueueDayLearning},
			DueAtMost:  store.DueAtMost(s.today),
			ExcludeIDs: s.excluded(),
			Limit:      s.opts.QueuePageSize,
		})
		if err != nil {
			return false, fmt.Errorf("failed to fill day learning queue: %w", err)
		}
		if len(cards) == 0 {
			continue
		}
		for _, c := range cards {
			s.lrnDayQueue = append(s.lrnDayQueue, c.ID)
		}
		s.rng.Shuffle(len(s.lrnDayQueue), func(i, j int) {
			s.lrnDayQueue[i], s.lrnDayQueue[j] = s.lrnDayQueue[j], s.lrnDayQueue[i]
		})
		return true, nil
	}
	return false, nil
}

// fillNew loads the next page of new cards, deck by deck in deck order.
func (s *Session) fillNew(ctx context.Context) (bool, error) {
	if len(s.newQueue) > 0 {
		return true, nil
	}
	if s.counts.New == 0 {
		return false, nil
	}
	shares, _, err := s.allocate(ctx, domain.QueueNew)
	if err != nil {
		return false, s.abortFill(err, &s.newQueue)
	}
	for _, d := range s.activeDecks() {
		room := s.opts.QueuePageSize - len(s.newQueue)
		if room <= 0 {
			break
		}
		n := min(shares[d.ID], room)
		if n <= 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return false, s.abortFill(err, &s.newQueue)
		}
		cards, err := s.store.QueryCards(ctx, store.CardQuery{
			DeckIDs:    []int64{d.ID},
			Queues:     []domain.Queue{domain.QueueNew},
			ExcludeIDs: s.excluded(),
			Order:      store.ByDue,
			Limit:      n,
		})
		if err != nil {
			return false, s.abortFill(err, &s.newQueue)
		}
		for _, c := range cards {
			s.newQueue = append(s.newQueue, c.ID)
		}
	}
	if len(s.newQueue) == 0 {
		s.counts.New = 0
		return false, nil
	}
	return true, nil
}

func (s *Session) reviewOrder() store.CardOrder {
	switch s.col.ReviewOrder {
	case domain.ReviewIntervalAsc:
		return store.ByIntervalAsc
	case domain.ReviewIntervalDesc:
		return store.ByIntervalDesc
	}
	return store.ByDue
}

// fillRev loads the next page of due reviews. Each deck contributes up to its
// share; the page is then ordered by the collection's review order.
func (s *Session) fillRev(ctx context.Context) (bool, error) {
	if len(s.revQueue) > 0 {
		return true, nil
	}
	if s.counts.Review == 0 {
		return false, nil
	}
	shares, _, err := s.allocate(ctx, domain.QueueReview)
	if err != nil {
		return false, s.abortFill(err, &s.revQueue)
	}
	var cards []*domain.Card
	for _, d := range s.activeDecks() {
		n := min(shares[d.ID], s.opts.QueuePageSize)
		if n <= 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return false, s.abortFill(err, &s.revQueue)
		}
		page, err := s.store.QueryCards(ctx, store.CardQuery{
			DeckIDs:    []int64{d.ID},
			Queues:     []domain.Queue{domain.QueueReview},
			DueAtMost:  store.DueAtMost(s.today),
			ExcludeIDs: s.excluded(),
			Order:      s.reviewOrder(),
			Limit:      n,
		})
		if err != nil {
			return false, s.abortFill(err, &s.revQueue)
		}
		cards = append(cards, page...)
	}
	s.sortReviews(cards)
	if len(cards) > s.opts.QueuePageSize {
		cards = cards[:s.opts.QueuePageSize]
	}
	for _, c := range cards {
		s.revQueue = append(s.revQueue, c.ID)
	}
	if len(s.revQueue) == 0 {
		s.counts.Review = 0
		return false, nil
	}
	return true, nil
}

func (s *Session) sortReviews(cards []*domain.Card) {
	shuffle := func() {
		s.rng.Shuffle(len(cards), func(i, j int) { cards[i], cards[j] = cards[j], cards[i] })
	}
	switch s.col.ReviewOrder {
	case domain.ReviewRandom:
		shuffle()
	case domain.ReviewDue:
		slices.SortStableFunc(cards, func(a, b *domain.Card) int { return cmp.Compare(a.Due, b.Due) })
	case domain.ReviewIntervalAsc:
		slices.SortStableFunc(cards, func(a, b *domain.Card) int { return cmp.Compare(a.Interval, b.Interval) })
	case domain.ReviewIntervalDesc:
		slices.SortStableFunc(cards, func(a, b *domain.Card) int { return cmp.Compare(b.Interval, a.Interval) })
	default:
		// Shuffled first, so cards due the same day come out in random order.
		shuffle()
		slices.SortStableFunc(cards, func(a, b *domain.Card) int { return cmp.Compare(a.Due, b.Due) })
	}
}

// abortFill leaves a queue empty after a failed or cancelled fill.
func (s *Session) abortFill(err error, queue *[]int64) error {
	*queue = nil
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.log.Debug("Queue fill cancelled")
		return err
	}
	return fmt.Errorf("failed to fill queue: %w", err)
}

// loadQueued fetches a queued card, skipping entries that left the queue since
// they were loaded.
func (s *Session) loadQueued(ctx context.Context, id int64, queues ...domain.Queue) (*domain.Card, error) {
	c, err := s.store.Card(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !slices.Contains(queues, c.Queue) {
		return nil, nil
	}
	return c, nil
}

func (s *Session) getLrnCard(ctx context.Context, collapse bool) (*domain.Card, error) {
	if err := s.maybeResetLrn(ctx, collapse && s.counts.Learn == 0); err != nil {
		return nil, err
	}
	for {
		ok, err := s.fillLrn(ctx)
		if err != nil || !ok {
			return nil, err
		}
		cutoff := s.now().Unix()
		if collapse {
			cutoff += s.collapseSeconds()
		}
		if s.lrnQueue[0].due >= cutoff {
			return nil, nil
		}
		id := s.lrnQueue[0].id
		s.lrnQueue = s.lrnQueue[1:]
		c, err := s.loadQueued(ctx, id, domain.QueueLearning, domain.QueuePreview)
		if err != nil || c != nil {
			if c != nil {
				s.counts.Learn = max(0, s.counts.Learn-1)
			}
			return c, err
		}
	}
}

func (s *Session) getLrnDayCard(ctx context.Context) (*domain.Card, error) {
	for {
		ok, err := s.fillLrnDay(ctx)
		if err != nil || !ok {
			return nil, err
		}
		id := s.lrnDayQueue[0]
		s.lrnDayQueue = s.lrnDayQueue[1:]
		c, err := s.loadQueued(ctx, id, domain.QueueDayLearning)
		if err != nil || c != nil {
			if c != nil {
				s.counts.Learn = max(0, s.counts.Learn-1)
			}
			return c, err
		}
	}
}

func (s *Session) getNewCard(ctx context.Context) (*domain.Card, error) {
	for {
		ok, err := s.fillNew(ctx)
		if err != nil || !ok {
			return nil, err
		}
		id := s.newQueue[0]
		s.newQueue = s.newQueue[1:]
		c, err := s.loadQueued(ctx, id, domain.QueueNew)
		if err != nil || c != nil {
			if c != nil {
				s.counts.New = max(0, s.counts.New-1)
			}
			return c, err
		}
	}
}

func (s *Session) getRevCard(ctx context.Context) (*domain.Card, error) {
	for {
		ok, err := s.fillRev(ctx)
		if err != nil || !ok {
			return nil, err
		}
		id := s.revQueue[0]
		s.revQueue = s.revQueue[1:]
		c, err := s.loadQueued(ctx, id, domain.QueueReview)
		if err != nil || c != nil {
			if c != nil {
				s.counts.Review = max(0, s.counts.Review-1)
			}
			return c, err
		}
	}
}

func (s *Session) timeForNewCard() bool {
	if s.counts.New == 0 {
		return false
	}
	switch s.col.NewSpread {
	case domain.NewCardsLast:
		return false
	case domain.NewCardsFirst:
		return true
	}
	return s.newCardModulus > 0 && s.reps > 0 && s.reps%s.newCardModulus == 0
}

// getCard picks the next card: due learning cards first, then new cards when
// it is their turn, then reviews and day learning, then the remaining new
// cards, and finally learning cards due within the learn-ahead window.
func (s *Session) getCard(ctx context.Context) (*domain.Card, error) {
	steps := []func(context.Context) (*domain.Card, error){
		func(ctx context.Context) (*domain.Card, error) { return s.getLrnCard(ctx, false) },
		func(ctx context.Context) (*domain.Card, error) {
			if !s.timeForNewCard() {
				return nil, nil
			}
			return s.getNewCard(ctx)
		},
	}
	if s.col.DayLearnFirst {
		steps = append(steps, s.getLrnDayCard, s.getRevCard)
	} else {
		steps = append(steps, s.getRevCard, s.getLrnDayCard)
	}
	steps = append(steps,
		s.getNewCard,
		func(ctx context.Context) (*domain.Card, error) { return s.getLrnCard(ctx, true) },
	)
	for _, step := range steps {
		c, err := step(ctx)
		if err != nil || c != nil {
			return c, err
		}
	}
	return nil, nil
}

// NextCard returns the next card to study, or nil when nothing is left for
// today. Calling it again before answering returns the same card.
func (s *Session) NextCard(ctx context.Context) (*domain.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.prepare(ctx); err != nil {
		return nil, err
	}

	if s.current != nil {
		c, err := s.store.Card(ctx, s.current.ID)
		if err == nil && domain.SchedulingEqual(c, s.current) {
			return c, nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		s.current = nil
		if err := s.recount(ctx); err != nil {
			return nil, err
		}
	}

	if s.pending != 0 {
		id := s.pending
		s.pending = 0
		c, err := s.store.Card(ctx, id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if c != nil && c.Queue.Studyable() {
			s.serve(c)
			return c, s.recount(ctx)
		}
	}

	c, err := s.getCard(ctx)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	s.serve(c)
	s.log.Debug("Serving card", "card_id", c.ID, "queue", c.Queue, "due", c.Due)
	return c, nil
}

func (s *Session) serve(c *domain.Card) {
	s.current = c.Clone()
	s.servedAt = s.now()
}

// removeFromQueues drops ids from every in-memory queue.
func (s *Session) removeFromQueues(ids ...int64) {
	drop := func(id int64) bool { return slices.Contains(ids, id) }
	s.newQueue = slices.DeleteFunc(s.newQueue, drop)
	s.revQueue = slices.DeleteFunc(s.revQueue, drop)
	s.lrnDayQueue = slices.DeleteFunc(s.lrnDayQueue, drop)
	s.lrnQueue = slices.DeleteFunc(s.lrnQueue, func(e lrnEntry) bool { return drop(e.id) })
}
