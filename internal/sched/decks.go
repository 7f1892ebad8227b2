package sched

import (
	"context"
	"fmt"
	"slices"

	"github.com/conorfennell/knoldeck/internal/decks"
	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/store"
)

// Outcome is the result of an operation that needs the caller's confirmation
// before it changes anything. A call with confirm=false only describes what
// would happen.
type Outcome struct {
	RequiresConfirmation bool   `json:"requiresConfirmation"`
	Message              string `json:"message"`
}

// createMissing inserts normal decks for names, root first.
func (s *Session) createMissing(ctx context.Context, tx store.Store, names []string) error {
	now := s.now().Unix()
	for _, name := range names {
		d := &domain.Deck{Name: name, ConfigID: domain.DefaultConfigID, Mod: now}
		if err := tx.SaveDeck(ctx, d); err != nil {
			return fmt.Errorf("failed to create deck %q: %w", name, err)
		}
	}
	return nil
}

// CreateDeck returns the id of the named deck, creating it and any missing
// parents first.
func (s *Session) CreateDeck(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createDeck(ctx, name)
}

func (s *Session) createDeck(ctx context.Context, name string) (int64, error) {
	normalized, missing, err := s.arena.PlanCreate(name)
	if err != nil {
		return 0, err
	}
	if len(missing) > 0 {
		err := s.store.Transact(ctx, func(tx store.Store) error {
			return s.createMissing(ctx, tx, missing)
		})
		if err != nil {
			return 0, err
		}
		if err := s.reloadDecks(ctx); err != nil {
			return 0, err
		}
		s.invalidate()
		s.log.Info("Created deck", "deck", normalized, "created", len(missing))
	}
	d, ok := s.arena.ByName(normalized)
	if !ok {
		return 0, fmt.Errorf("deck %q missing after create", normalized)
	}
	if d.Filtered {
		return 0, fmt.Errorf("%w: %q", decks.ErrFilteredParent, d.Name)
	}
	return d.ID, nil
}

// CreateFilteredDeck creates a filtered deck, fills it and selects it.
func (s *Session) CreateFilteredDeck(ctx context.Context, name string, opts FilteredOptions) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	normalized, missing, err := s.arena.PlanCreate(name)
	if err != nil {
		return 0, err
	}
	if len(missing) == 0 || !slices.Contains(missing, normalized) {
		return 0, fmt.Errorf("%w: %q", decks.ErrDuplicateName, normalized)
	}
	for _, t := range opts.Terms {
		if t.Limit <= 0 {
			return 0, fmt.Errorf("term %q needs a positive limit", t.Search)
		}
	}
	if opts.PreviewDelay < 0 {
		return 0, fmt.Errorf("invalid preview delay %d", opts.PreviewDelay)
	}

	fd := &domain.Deck{
		Name:         normalized,
		Filtered:     true,
		Terms:        opts.Terms,
		Resched:      opts.Resched,
		PreviewDelay: opts.PreviewDelay,
		Delays:       opts.Delays,
		Mod:          s.now().Unix(),
	}
	col := s.col.Clone()
	err = s.store.Transact(ctx, func(tx store.Store) error {
		if err := s.createMissing(ctx, tx, missing[:len(missing)-1]); err != nil {
			return err
		}
		if err := tx.SaveDeck(ctx, fd); err != nil {
			return fmt.Errorf("failed to create filtered deck %q: %w", normalized, err)
		}
		col.CurrentDeck = fd.ID
		return tx.SaveCollection(ctx, col)
	})
	if err != nil {
		return 0, err
	}
	s.col = col
	if err := s.reloadDecks(ctx); err != nil {
		return 0, err
	}
	s.invalidate()
	if _, err := s.rebuildFiltered(ctx, fd.ID); err != nil {
		return fd.ID, err
	}
	return fd.ID, nil
}

// RenameDeck moves a deck and its children to a new name. Placing any deck
// under a filtered deck is rejected before anything is written.
func (s *Session) RenameDeck(ctx context.Context, id int64, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, missing, err := s.arena.PlanRename(id, newName)
	if err != nil {
		return err
	}
	now := s.now().Unix()
	err = s.store.Transact(ctx, func(tx store.Store) error {
		if err := s.createMissing(ctx, tx, missing); err != nil {
			return err
		}
		for _, r := range plan {
			d := r.Deck.Clone()
			d.Name = r.NewName
			d.Mod = now
			if err := tx.SaveDeck(ctx, d); err != nil {
				return fmt.Errorf("failed to rename deck %q: %w", r.Deck.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("Renamed deck", "deck_id", id, "name", newName, "decks", len(plan))
	s.invalidate()
	return s.reloadDecks(ctx)
}

// SelectDeck makes a deck and its children the source of studied cards.
func (s *Session) SelectDeck(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.arena.Get(id); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDeck, id)
	}
	col := s.col.Clone()
	col.CurrentDeck = id
	col.Mod = s.now().Unix()
	if err := s.store.SaveCollection(ctx, col); err != nil {
		return err
	}
	s.col = col
	s.current = nil
	return s.resetQueues(ctx)
}

// SetDeckLimits overrides a normal deck's daily limits. Nil keeps the
// options group's value.
func (s *Session) SetDeckLimits(ctx context.Context, id int64, newLimit, reviewLimit *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.arena.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDeck, id)
	}
	if d.Filtered {
		return fmt.Errorf("filtered deck %q has no limits", d.Name)
	}
	updated := d.Clone()
	updated.NewLimit, updated.ReviewLimit = newLimit, reviewLimit
	updated.Mod = s.now().Unix()
	if err := s.store.SaveDeck(ctx, updated); err != nil {
		return err
	}
	s.applyDecks([]*domain.Deck{updated})
	s.invalidate()
	return nil
}

// DeckConfigs returns every options group.
func (s *Session) DeckConfigs(ctx context.Context) ([]*domain.DeckConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.DeckConfigs(ctx)
}

// SaveDeckConfig validates and stores an options group. A zero ID adds a new
// group and assigns its ID.
func (s *Session) SaveDeckConfig(ctx context.Context, conf *domain.DeckConfig) error {
	if err := conf.Validate(); err != nil {
		return fmt.Errorf("invalid deck config: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conf.Mod = s.now().Unix()
	if err := s.store.SaveDeckConfig(ctx, conf); err != nil {
		return err
	}
	s.confs.invalidate()
	s.invalidate()
	return nil
}

// AssignDeckConfig makes a normal deck use an options group.
func (s *Session) AssignDeckConfig(ctx context.Context, deckID, confID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.arena.Get(deckID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDeck, deckID)
	}
	if d.Filtered {
		return fmt.Errorf("filtered deck %q has no options group", d.Name)
	}
	if _, err := s.store.DeckConfig(ctx, confID); err != nil {
		return fmt.Errorf("deck config %d: %w", confID, err)
	}
	updated := d.Clone()
	updated.ConfigID = confID
	updated.Mod = s.now().Unix()
	if err := s.store.SaveDeck(ctx, updated); err != nil {
		return err
	}
	s.applyDecks([]*domain.Deck{updated})
	s.invalidate()
	return nil
}

// RemoveDeckConfig deletes an options group. Decks using it switch to the
// default group. Without confirm nothing is changed and the returned Outcome
// describes the effect.
func (s *Session) RemoveDeckConfig(ctx context.Context, id int64, confirm bool) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == domain.DefaultConfigID {
		return Outcome{}, fmt.Errorf("the default deck config cannot be removed")
	}
	conf, err := s.store.DeckConfig(ctx, id)
	if err != nil {
		return Outcome{}, fmt.Errorf("deck config %d: %w", id, err)
	}
	var users []*domain.Deck
	for _, d := range s.arena.Topo() {
		if !d.Filtered && d.ConfigID == id {
			users = append(users, d)
		}
	}
	if !confirm {
		return Outcome{
			RequiresConfirmation: true,
			Message:              fmt.Sprintf("Removing %q switches %d deck(s) to the default options", conf.Name, len(users)),
		}, nil
	}

	now := s.now().Unix()
	var updated []*domain.Deck
	err = s.store.Transact(ctx, func(tx store.Store) error {
		for _, d := range users {
			u := d.Clone()
			u.ConfigID = domain.DefaultConfigID
			u.Mod = now
			if err := tx.SaveDeck(ctx, u); err != nil {
				return err
			}
			updated = append(updated, u)
		}
		return tx.RemoveDeckConfig(ctx, id)
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to remove deck config %d: %w", id, err)
	}
	s.applyDecks(updated)
	s.confs.invalidate()
	s.invalidate()
	s.log.Info("Removed deck config", "config_id", id, "decks", len(updated))
	return Outcome{Message: fmt.Sprintf("Removed %q", conf.Name)}, nil
}

// DeckNode is one deck of the study tree with its remaining counts.
type DeckNode struct {
	ID       int64       `json:"id"`
	Name     string      `json:"name"`
	Filtered bool        `json:"filtered"`
	New      int         `json:"new"`
	Learn    int         `json:"learn"`
	Review   int         `json:"review"`
	Children []*DeckNode `json:"children,omitempty"`
}

// DeckTree returns every deck with the cards left to study in it today.
// A deck's new and review counts include its children's but never exceed
// its own remaining limit.
func (s *Session) DeckTree(ctx context.Context) ([]*DeckNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkDay(ctx); err != nil {
		return nil, err
	}
	confs, err := s.confs.confsFor(ctx, s.store, s.arena.Topo())
	if err != nil {
		return nil, err
	}
	limits := decks.Effective(s.arena, func(d *domain.Deck) *domain.DeckConfig { return confs[d.ID] }, s.today, s.opts.ReportLimit)

	count := func(q store.CardQuery) (int, error) {
		q.ExcludeIDs = s.excluded()
		return s.store.CountCards(ctx, q)
	}
	lrnCutoff := s.now().Unix() + s.collapseSeconds() - 1
	var build func(d *domain.Deck) (*DeckNode, error)
	build = func(d *domain.Deck) (*DeckNode, error) {
		ids := []int64{d.ID}
		node := &DeckNode{ID: d.ID, Name: d.Name, Filtered: d.Filtered}
		newCount, err := count(store.CardQuery{DeckIDs: ids, Queues: []domain.Queue{domain.QueueNew}})
		if err != nil {
			return nil, err
		}
		revCount, err := count(store.CardQuery{DeckIDs: ids, Queues: []domain.Queue{domain.QueueReview}, DueAtMost: store.DueAtMost(s.today)})
		if err != nil {
			return nil, err
		}
		for _, q := range []store.CardQuery{
			{DeckIDs: ids, Queues: []domain.Queue{domain.QueueLearning}, DueAtMost: store.DueAtMost(lrnCutoff)},
			{DeckIDs: ids, Queues: []domain.Queue{domain.QueueDayLearning}, DueAtMost: store.DueAtMost(s.today)},
			{DeckIDs: ids, Queues: []domain.Queue{domain.QueuePreview}, DueAtMost: store.DueAtMost(lrnCutoff)},
		} {
			n, err := count(q)
			if err != nil {
				return nil, err
			}
			node.Learn += n
		}
		for _, child := range s.arena.Children(d.ID) {
			cn, err := build(child)
			if err != nil {
				return nil, err
			}
			newCount += cn.New
			revCount += cn.Review
			node.Learn += cn.Learn
			node.Children = append(node.Children, cn)
		}
		node.New = min(newCount, limits[d.ID].New)
		node.Review = min(revCount, limits[d.ID].Review)
		return node, nil
	}

	var out []*DeckNode
	for _, root := range s.arena.Roots() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node, err := build(root)
		if err != nil {
			return nil, fmt.Errorf("failed to count deck %q: %w", root.Name, err)
		}
		out = append(out, node)
	}
	return out, nil
}
