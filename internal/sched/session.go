// Package sched implements the study session: queue building, answer
// transitions, burial and suspension, filtered decks, rescheduling and
// one-step undo.
//
// A Session owns all mutable scheduling state for one collection. Its public
// methods are safe for concurrent use, but they serialize on a single lock:
// exactly one mutation runs at a time.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/conorfennell/knoldeck/internal/decks"
	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/store"
)

// Options configures a Session. Zero values select the defaults.
type Options struct {
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
	// Rand drives interval fuzz and queue shuffling.
	Rand *rand.Rand
	// QueuePageSize bounds how many cards a queue fill loads at once.
	QueuePageSize int
	// ReportLimit stands in for "unbounded" in filtered-deck limits and
	// learning queue fills.
	ReportLimit int
	// ConfigCacheSize is the number of options groups kept resolved.
	ConfigCacheSize int
	Logger          *slog.Logger
	// LeechHook is called after a lapse turns a card into a leech.
	LeechHook func(card *domain.Card, note *domain.Note)
}

const (
	defaultQueuePageSize   = 50
	defaultReportLimit     = 99999
	defaultConfigCacheSize = 64
)

func (o *Options) setDefaults() {
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.QueuePageSize <= 0 {
		o.QueuePageSize = defaultQueuePageSize
	}
	if o.ReportLimit <= 0 {
		o.ReportLimit = defaultReportLimit
	}
	if o.ConfigCacheSize <= 0 {
		o.ConfigCacheSize = defaultConfigCacheSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Counts are the cards left to study in the selected deck today.
type Counts struct {
	New    int `json:"new"`
	Learn  int `json:"learn"`
	Review int `json:"review"`
}

type lrnEntry struct {
	due int64
	id  int64
}

// Session is the scheduling state of one collection.
type Session struct {
	mu    sync.Mutex
	store store.Store
	opts  Options
	log   *slog.Logger
	rng   *rand.Rand
	confs *resolver

	col   *domain.Collection
	arena *decks.Arena

	today     int64
	dayCutoff int64 // epoch seconds
	lrnCutoff int64 // epoch seconds

	haveQueues  bool
	newQueue    []int64
	lrnQueue    []lrnEntry
	lrnDayQueue []int64
	revQueue    []int64
	counts      Counts

	newCardModulus int
	reps           int

	// current is the card served by NextCard and not yet answered.
	current  *domain.Card
	servedAt time.Time
	// pending is presented first by the next NextCard.
	pending int64
	undo    *undoStep
}

// Open loads the collection from st and returns a ready session.
func Open(ctx context.Context, st store.Store, opts Options) (*Session, error) {
	opts.setDefaults()
	confs, err := newResolver(opts.ConfigCacheSize, opts.Logger)
	if err != nil {
		return nil, err
	}
	s := &Session{
		store: st,
		opts:  opts,
		log:   opts.Logger,
		rng:   opts.Rand,
		confs: confs,
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) load(ctx context.Context) error {
	col, err := s.store.Collection(ctx)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	s.col = col
	if err := s.reloadDecks(ctx); err != nil {
		return err
	}
	if _, ok := s.arena.Get(col.CurrentDeck); !ok {
		s.log.Warn("Selected deck missing, selecting the default deck", "deck_id", col.CurrentDeck)
		col.CurrentDeck = domain.DefaultDeckID
	}
	s.confs.invalidate()
	return s.updateCutoff(ctx)
}

func (s *Session) reloadDecks(ctx context.Context) error {
	ds, err := s.store.Decks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load decks: %w", err)
	}
	s.arena = decks.NewArena(ds)
	return nil
}

func (s *Session) now() time.Time {
	return s.opts.Clock()
}

func (s *Session) collapseSeconds() int64 {
	return int64(s.col.CollapseTime / time.Second)
}

// updateCutoff recomputes the day index and unburies cards once per day.
func (s *Session) updateCutoff(ctx context.Context) error {
	now := s.now()
	old := s.today
	s.today = s.col.Today(now)
	s.dayCutoff = s.col.DayCutoff(now).Unix()
	if s.haveQueues && old != s.today {
		s.log.Info("Study day rolled over", "today", s.today)
	}
	if s.col.LastUnburied >= s.today {
		return nil
	}
	col := s.col.Clone()
	col.LastUnburied = s.today
	err := s.store.Transact(ctx, func(tx store.Store) error {
		if _, err := s.unbury(ctx, tx, nil, allBuried); err != nil {
			return err
		}
		return tx.SaveCollection(ctx, col)
	})
	if err != nil {
		return fmt.Errorf("failed to unbury cards for day %d: %w", s.today, err)
	}
	s.col = col
	return nil
}

// checkDay starts a new study day when the cutoff has passed.
func (s *Session) checkDay(ctx context.Context) error {
	if s.now().Unix() < s.dayCutoff {
		return nil
	}
	if err := s.updateCutoff(ctx); err != nil {
		return err
	}
	s.current = nil
	return s.resetQueues(ctx)
}

// prepare runs before every public operation that reads queue state.
func (s *Session) prepare(ctx context.Context) error {
	if err := s.checkDay(ctx); err != nil {
		return err
	}
	if !s.haveQueues {
		return s.resetQueues(ctx)
	}
	return nil
}

// Reset rebuilds every queue and count for the current day and deck.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateCutoff(ctx); err != nil {
		return err
	}
	return s.resetQueues(ctx)
}

func (s *Session) resetQueues(ctx context.Context) error {
	s.haveQueues = false
	s.lrnCutoff = s.now().Unix() + s.collapseSeconds()
	s.clearQueues()
	if err := s.recount(ctx); err != nil {
		return err
	}
	s.updateNewCardRatio()
	s.haveQueues = true
	return nil
}

func (s *Session) clearQueues() {
	s.newQueue = nil
	s.lrnQueue = nil
	s.lrnDayQueue = nil
	s.revQueue = nil
}

// invalidate forces the next operation to rebuild the queues.
func (s *Session) invalidate() {
	s.haveQueues = false
	s.clearQueues()
}

func (s *Session) updateNewCardRatio() {
	s.newCardModulus = 0
	if s.col.NewSpread != domain.NewCardsDistribute || s.counts.New == 0 {
		return
	}
	s.newCardModulus = (s.counts.New + s.counts.Review) / s.counts.New
	if s.counts.Review > 0 {
		s.newCardModulus = max(2, s.newCardModulus)
	}
}

// Today returns the current day index.
func (s *Session) Today() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.today
}

// Collection returns a copy of the collection settings.
func (s *Session) Collection() *domain.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.col.Clone()
}

// Counts returns the cards left in the selected deck. A card served by
// NextCard and not yet answered is not included.
func (s *Session) Counts(ctx context.Context) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.prepare(ctx); err != nil {
		return Counts{}, err
	}
	return s.counts, nil
}

// Decks returns a copy of every deck in topological order.
func (s *Session) Decks() []*domain.Deck {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Deck
	for _, d := range s.arena.Topo() {
		out = append(out, d.Clone())
	}
	return out
}

// FindDecks fuzzy-matches deck names, best match first.
func (s *Session) FindDecks(query string) []*domain.Deck {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Deck
	for _, d := range s.arena.Find(query) {
		out = append(out, d.Clone())
	}
	return out
}

// DeckCreator creates decks on behalf of an Exclusive operation.
type DeckCreator interface {
	CreateDeck(ctx context.Context, name string) (int64, error)
}

type lockedSession struct {
	s *Session
}

func (l lockedSession) CreateDeck(ctx context.Context, name string) (int64, error) {
	return l.s.createDeck(ctx, name)
}

// Exclusive runs fn while no scheduler mutation can happen, then reloads the
// collection and rebuilds the queues. Collaborators that write cards or notes
// directly, such as note sync, run through here.
func (s *Session) Exclusive(ctx context.Context, fn func(ctx context.Context, dc DeckCreator) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fnErr := fn(ctx, lockedSession{s: s})
	s.current = nil
	s.undo = nil
	if err := s.load(ctx); err != nil {
		return err
	}
	s.invalidate()
	return fnErr
}

// dropCurrent forgets the served card when it is among ids.
func (s *Session) dropCurrent(ids []int64) {
	if s.current != nil && slices.Contains(ids, s.current.ID) {
		s.current = nil
	}
}

// activeDecks returns the selected deck and its subtree.
func (s *Session) activeDecks() []*domain.Deck {
	return s.arena.Active(s.col.CurrentDeck)
}

func (s *Session) activeIDs() []int64 {
	return s.arena.ActiveIDs(s.col.CurrentDeck)
}

// excluded lists the served card, which never counts as remaining.
func (s *Session) excluded() []int64 {
	if s.current == nil {
		return nil
	}
	return []int64{s.current.ID}
}

// restoreQueue is the queue a withheld card returns to. Cards borrowed by a
// deck that does not reschedule always wait in the review queue.
func (s *Session) restoreQueue(c *domain.Card) domain.Queue {
	if c.IsFiltered() {
		if fd, ok := s.arena.Get(c.DeckID); ok && fd.Filtered && !fd.Resched {
			return domain.QueueReview
		}
	}
	return domain.RestoredQueue(c.Type, c.Due)
}

// applyDecks copies saved deck state into the arena.
func (s *Session) applyDecks(ds []*domain.Deck) {
	for _, d := range ds {
		if cur, ok := s.arena.Get(d.ID); ok {
			*cur = *d.Clone()
		}
	}
}
