package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/interval"
	"github.com/conorfennell/knoldeck/internal/store"
)

// answerResult collects everything an answer changed, so that in-memory
// state is only touched once the transaction has committed.
type answerResult struct {
	before  *domain.Card
	card    *domain.Card
	revlog  *domain.RevlogEntry
	decks   []*domain.Deck
	undo    undoStep
	discard []int64
	note    *domain.Note // set when the answer made the card a leech
	lrnPush bool

	countNew, countReview, countLearn bool
}

// Answer grades a card and applies the resulting transition. The card must be
// the state the caller was shown: if the stored card has changed since, the
// answer is rejected with ErrStaleCard and nothing is written.
func (s *Session) Answer(ctx context.Context, card *domain.Card, ease domain.Ease) (*domain.Card, error) {
	if !ease.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidEase, int(ease))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.prepare(ctx); err != nil {
		return nil, err
	}

	now := s.now()
	var res *answerResult
	err := s.store.Transact(ctx, func(tx store.Store) error {
		fresh, err := tx.Card(ctx, card.ID)
		if err != nil {
			return err
		}
		if !domain.SchedulingEqual(fresh, card) {
			return fmt.Errorf("%w: card %d", ErrStaleCard, card.ID)
		}
		if !fresh.Queue.Studyable() {
			return &InvariantError{CardID: fresh.ID, Queue: fresh.Queue, Op: "answer"}
		}
		cc, err := s.confs.forCard(ctx, tx, s.arena, fresh)
		if err != nil {
			return err
		}
		res, err = s.answerCard(ctx, tx, fresh, ease, cc, now)
		if err != nil {
			return err
		}
		return s.persistAnswer(ctx, tx, res, cc, now)
	})
	if err != nil {
		if errors.Is(err, ErrStaleCard) {
			s.log.Warn("Rejected answer for a card that changed", "card_id", card.ID)
			s.dropCurrent([]int64{card.ID})
		}
		return nil, err
	}

	s.applyAnswer(res)
	s.log.Debug("Answered card",
		"card_id", res.card.ID,
		"ease", ease,
		"queue", res.card.Queue,
		"due", res.card.Due,
		"interval", res.card.Interval,
	)
	if res.note != nil {
		s.log.Info("Card became a leech", "card_id", res.card.ID, "lapses", res.card.Lapses, "suspended", res.card.Queue == domain.QueueSuspended)
		if s.opts.LeechHook != nil {
			s.opts.LeechHook(res.card.Clone(), res.note.Clone())
		}
	}
	if err := s.recount(ctx); err != nil {
		return nil, err
	}
	return res.card.Clone(), nil
}

func (s *Session) answerCard(ctx context.Context, tx store.Store, before *domain.Card, ease domain.Ease, cc cardConfig, now time.Time) (*answerResult, error) {
	c := before.Clone()
	res := &answerResult{before: before, card: c}
	res.undo.cards = append(res.undo.cards, before.Clone())

	if err := s.burySiblings(ctx, tx, c, cc, now, res); err != nil {
		return nil, err
	}

	if cc.previewing() {
		res.revlog = s.answerPreview(c, ease, cc, now, res)
		return res, nil
	}

	c.Reps++
	if c.Queue == domain.QueueNew {
		c.Queue = domain.QueueLearning
		c.Type = domain.TypeLearning
		c.Left = interval.StartingLeft(cc.conf.New.Delays, now.Unix(), s.dayCutoff)
		res.countNew = true
	}
	switch c.Queue {
	case domain.QueueLearning, domain.QueueDayLearning:
		res.revlog = s.answerLearning(c, ease, cc, now, res)
		res.countLearn = !res.countNew
	case domain.QueueReview:
		entry, err := s.answerReview(ctx, tx, c, ease, cc, now, res)
		if err != nil {
			return nil, err
		}
		res.revlog = entry
		res.countReview = true
	default:
		return nil, &InvariantError{CardID: c.ID, Queue: c.Queue, Op: "answer"}
	}
	// The original due no longer applies once the card has been answered.
	c.OriginalDue = 0
	return res, nil
}

// persistAnswer writes the card, the revlog row and the day counters.
func (s *Session) persistAnswer(ctx context.Context, tx store.Store, res *answerResult, cc cardConfig, now time.Time) error {
	c := res.card
	c.Mod = now.Unix()
	if err := tx.UpdateCards(ctx, c); err != nil {
		return err
	}

	entry := res.revlog
	entry.ID = now.UnixMilli()
	entry.CardID = c.ID
	if s.current != nil && s.current.ID == c.ID {
		limit := time.Duration(cc.conf.MaxAnswerSeconds) * time.Second
		entry.Taken = min(now.Sub(s.servedAt), limit)
	}
	if err := tx.AddRevlog(ctx, entry); err != nil {
		return err
	}
	res.undo.revlog = append(res.undo.revlog, entry.ID)

	if !res.countNew && !res.countReview && !res.countLearn {
		return nil
	}
	home := res.before.HomeDeck()
	var targets []*domain.Deck
	if d, ok := s.arena.Get(home); ok {
		targets = append(s.arena.Parents(home), d)
	}
	for _, d := range targets {
		res.undo.decks = append(res.undo.decks, d.Clone())
		updated := d.Clone()
		switch {
		case res.countNew:
			updated.NewToday.Add(s.today, 1)
		case res.countReview:
			updated.ReviewToday.Add(s.today, 1)
		default:
			updated.LearnToday.Add(s.today, 1)
		}
		updated.Mod = now.Unix()
		if err := tx.SaveDeck(ctx, updated); err != nil {
			return err
		}
		res.decks = append(res.decks, updated)
	}
	return nil
}

// applyAnswer updates in-memory state after the answer was committed.
func (s *Session) applyAnswer(res *answerResult) {
	s.applyDecks(res.decks)
	s.reps++
	s.dropCurrent([]int64{res.card.ID})
	s.removeFromQueues(append(res.discard, res.card.ID)...)
	if res.lrnPush {
		s.sortIntoLrn(res.card.Due, res.card.ID)
	}
	res.undo.op = "answer"
	res.undo.pending = res.card.ID
	res.undo.reps = true
	s.undo = &res.undo
}

func (s *Session) answerPreview(c *domain.Card, ease domain.Ease, cc cardConfig, now time.Time, res *answerResult) *domain.RevlogEntry {
	entry := &domain.RevlogEntry{Ease: ease, LastInterval: c.Interval, Factor: c.Factor, Kind: domain.ReviewCram}
	if ease == domain.Again {
		delay := cc.filtered.PreviewDelay * 60
		c.Queue = domain.QueuePreview
		c.Due = now.Unix() + int64(delay)
		res.lrnPush = c.Due < now.Unix()+s.collapseSeconds()
		entry.Interval = -delay
		return entry
	}
	c.Due = c.OriginalDue
	c.Queue = domain.RestoredQueue(c.Type, c.Due)
	removeFromFiltered(c)
	entry.Interval = c.Interval
	return entry
}

func (s *Session) answerLearning(c *domain.Card, ease domain.Ease, cc cardConfig, now time.Time, res *answerResult) *domain.RevlogEntry {
	kind := domain.ReviewLearn
	if c.Type == domain.TypeReview || c.Type == domain.TypeRelearning {
		kind = domain.ReviewRelearn
	}
	delays := cc.learnDelays(c)
	entry := &domain.RevlogEntry{
		Ease:         ease,
		LastInterval: -interval.DelayForGrade(delays, c.Left),
		Kind:         kind,
	}

	leaving := false
	switch ease {
	case domain.Easy:
		s.rescheduleAsReview(c, cc, true)
		leaving = true
	case domain.Good:
		if c.StepsRemaining()-1 <= 0 {
			s.rescheduleAsReview(c, cc, false)
			leaving = true
		} else {
			s.moveToNextStep(c, delays, now, res)
		}
	case domain.Hard:
		s.rescheduleLearning(c, interval.DelayForRepeatingGrade(delays, c.Left), now, res)
	default:
		s.moveToFirstStep(c, cc, now, res)
	}

	switch {
	case leaving:
		entry.Interval = c.Interval
	case ease == domain.Hard:
		entry.Interval = -interval.DelayForRepeatingGrade(delays, c.Left)
	default:
		entry.Interval = -interval.DelayForGrade(delays, c.Left)
	}
	entry.Factor = c.Factor
	return entry
}

func (s *Session) answerReview(ctx context.Context, tx store.Store, c *domain.Card, ease domain.Ease, cc cardConfig, now time.Time, res *answerResult) (*domain.RevlogEntry, error) {
	early := c.IsFiltered() && c.OriginalDue > s.today
	kind := domain.ReviewReview
	if early {
		kind = domain.ReviewCram
	}
	entry := &domain.RevlogEntry{Ease: ease, LastInterval: c.Interval, Kind: kind}

	if ease == domain.Again {
		delay, err := s.rescheduleLapse(ctx, tx, c, cc, now, res)
		if err != nil {
			return nil, err
		}
		entry.Interval = c.Interval
		if delay > 0 {
			entry.Interval = -delay
		}
	} else {
		var ivl int
		if early {
			ivl = interval.EarlyReview(c, ease, cc.conf.Rev, s.today)
		} else {
			ivl = interval.Review(c, ease, cc.conf.Rev, s.today, s.rng)
		}
		c.Interval = ivl
		c.Factor = interval.NextFactor(c.Factor, ease)
		c.Due = s.today + int64(ivl)
		removeFromFiltered(c)
		entry.Interval = ivl
	}
	entry.Factor = c.Factor
	return entry, nil
}

// rescheduleLapse handles Again on a review card. It returns the relearning
// delay in seconds, or zero when the card stays in review.
func (s *Session) rescheduleLapse(ctx context.Context, tx store.Store, c *domain.Card, cc cardConfig, now time.Time, res *answerResult) (int, error) {
	c.Lapses++
	c.Factor = interval.LapseFactor(c.Factor)

	suspended := false
	if interval.IsLeech(c.Lapses, cc.conf.Lapse.LeechFails) {
		if err := s.tagLeech(ctx, tx, c, now, res); err != nil {
			return 0, err
		}
		if cc.conf.Lapse.LeechAction == domain.LeechSuspend {
			c.Queue = domain.QueueSuspended
			suspended = true
		}
	}

	if len(cc.conf.Lapse.Delays) > 0 && !suspended {
		c.Type = domain.TypeRelearning
		return s.moveToFirstStep(c, cc, now, res), nil
	}
	c.Interval = interval.Lapse(c.Interval, cc.conf.Lapse)
	s.rescheduleAsReview(c, cc, false)
	if suspended {
		c.Queue = domain.QueueSuspended
	}
	return 0, nil
}

func (s *Session) tagLeech(ctx context.Context, tx store.Store, c *domain.Card, now time.Time, res *answerResult) error {
	note, err := tx.Note(ctx, c.NoteID)
	if errors.Is(err, store.ErrNotFound) {
		s.log.Warn("Leech card has no note", "card_id", c.ID, "note_id", c.NoteID)
		res.note = &domain.Note{ID: c.NoteID}
		return nil
	}
	if err != nil {
		return err
	}
	before := note.Clone()
	if note.AddTag(domain.LeechTag) {
		note.Mod = now.Unix()
		if err := tx.SaveNote(ctx, note); err != nil {
			return err
		}
		res.undo.note = before
	}
	res.note = note
	return nil
}

func (s *Session) moveToFirstStep(c *domain.Card, cc cardConfig, now time.Time, res *answerResult) int {
	delays := cc.learnDelays(c)
	c.Left = interval.StartingLeft(delays, now.Unix(), s.dayCutoff)
	if c.Type == domain.TypeRelearning {
		c.Interval = interval.Lapse(c.Interval, cc.conf.Lapse)
	}
	return s.rescheduleLearning(c, interval.DelayForGrade(delays, c.Left), now, res)
}

func (s *Session) moveToNextStep(c *domain.Card, delays []float64, now time.Time, res *answerResult) {
	left := c.StepsRemaining() - 1
	c.Left = interval.LeftToday(delays, left, now.Unix(), s.dayCutoff)*1000 + left
	s.rescheduleLearning(c, interval.DelayForGrade(delays, c.Left), now, res)
}

// rescheduleLearning schedules the next learning step delay seconds from
// now. Steps ending before the day cutoff stay in intraday learning with a
// little fuzz; longer ones move to day learning.
func (s *Session) rescheduleLearning(c *domain.Card, delay int, now time.Time, res *answerResult) int {
	nowUnix := now.Unix()
	c.Due = nowUnix + int64(delay)
	if c.Due >= s.dayCutoff {
		ahead := (c.Due-s.dayCutoff)/86400 + 1
		c.Due = s.today + ahead
		c.Queue = domain.QueueDayLearning
		c.Left = c.StepsRemaining()
		return delay
	}

	c.Due = min(s.dayCutoff-1, c.Due+int64(interval.StepFuzz(delay, s.rng)))
	c.Queue = domain.QueueLearning
	if c.Due < nowUnix+s.collapseSeconds() {
		res.lrnPush = true
		// With nothing else left to study, do not show the same card twice in a row.
		if len(s.lrnQueue) > 0 && s.counts.Review == 0 && s.counts.New == 0 {
			c.Due = max(c.Due, s.lrnQueue[0].due+1)
		}
	}
	return delay
}

// rescheduleAsReview graduates a learning or relearning card.
func (s *Session) rescheduleAsReview(c *domain.Card, cc cardConfig, early bool) {
	lapsed := c.Type == domain.TypeReview || c.Type == domain.TypeRelearning
	c.Interval = interval.Graduating(c, cc.conf.New, early, s.rng)
	if !lapsed {
		c.Factor = cc.conf.New.InitialFactor
	}
	c.Due = s.today + int64(c.Interval)
	c.Type = domain.TypeReview
	c.Queue = domain.QueueReview
	c.Left = 0
	removeFromFiltered(c)
}

// removeFromFiltered returns a borrowed card to its home deck.
func removeFromFiltered(c *domain.Card) {
	if !c.IsFiltered() {
		return
	}
	c.DeckID = c.OriginalDeck
	c.OriginalDeck = 0
	c.OriginalDue = 0
}
