package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/conorfennell/knoldeck/internal/decks"
	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/store"
	lru "github.com/hashicorp/golang-lru"
)

// cardConfig is the effective configuration for one card.
type cardConfig struct {
	// conf is the home deck's options group, with the filtered deck's step
	// override applied when the card is borrowed.
	conf *domain.DeckConfig
	// filtered is the filtered deck holding the card, or nil.
	filtered *domain.Deck
}

// previewing reports whether answers only preview the card.
func (c cardConfig) previewing() bool {
	return c.filtered != nil && !c.filtered.Resched
}

// learnDelays are the steps used while the card is learning or relearning.
func (c cardConfig) learnDelays(card *domain.Card) []float64 {
	if card.Type == domain.TypeReview || card.Type == domain.TypeRelearning {
		return c.conf.Lapse.Delays
	}
	return c.conf.New.Delays
}

// resolver caches sanitized options groups by id.
type resolver struct {
	cache *lru.Cache
	log   *slog.Logger
}

func newResolver(size int, logger *slog.Logger) (*resolver, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create config cache: %w", err)
	}
	return &resolver{cache: cache, log: logger}, nil
}

func (r *resolver) invalidate() {
	r.cache.Purge()
}

// deckConfig loads an options group. Invalid fields are reset to their
// defaults and a missing group falls back to the default one. The returned
// value is shared and must not be modified.
func (r *resolver) deckConfig(ctx context.Context, st store.Store, id int64) (*domain.DeckConfig, error) {
	if v, ok := r.cache.Get(id); ok {
		return v.(*domain.DeckConfig), nil
	}
	conf, err := st.DeckConfig(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		r.log.Warn("Deck config missing, using defaults", "config_id", id)
		if id != domain.DefaultConfigID {
			return r.deckConfig(ctx, st, domain.DefaultConfigID)
		}
		conf = domain.DefaultDeckConfig()
	case err != nil:
		return nil, err
	}
	if reset := conf.Sanitize(); len(reset) > 0 {
		r.log.Warn("Deck config has invalid values, using defaults for them", "config_id", id, "fields", reset)
	}
	r.cache.Add(id, conf)
	return conf, nil
}

// forDeck resolves the options group of a normal deck. Filtered decks have
// none and resolve to the default group.
func (r *resolver) forDeck(ctx context.Context, st store.Store, d *domain.Deck) (*domain.DeckConfig, error) {
	if d == nil || d.Filtered {
		return r.deckConfig(ctx, st, domain.DefaultConfigID)
	}
	return r.deckConfig(ctx, st, d.ConfigID)
}

// forCard resolves a card's effective configuration: its home deck's group,
// with the step override of the filtered deck currently holding it.
func (r *resolver) forCard(ctx context.Context, st store.Store, arena *decks.Arena, card *domain.Card) (cardConfig, error) {
	home, _ := arena.Get(card.HomeDeck())
	conf, err := r.forDeck(ctx, st, home)
	if err != nil {
		return cardConfig{}, err
	}
	out := cardConfig{conf: conf}
	if !card.IsFiltered() {
		return out, nil
	}
	fd, ok := arena.Get(card.DeckID)
	if !ok || !fd.Filtered {
		return out, nil
	}
	out.filtered = fd
	if len(fd.Delays) > 0 {
		out.conf = conf.Clone()
		out.conf.New.Delays = fd.Delays
		out.conf.Lapse.Delays = fd.Delays
	}
	return out, nil
}

// confsFor resolves the options group of each deck, keyed by deck id.
func (r *resolver) confsFor(ctx context.Context, st store.Store, ds []*domain.Deck) (map[int64]*domain.DeckConfig, error) {
	out := make(map[int64]*domain.DeckConfig, len(ds))
	for _, d := range ds {
		conf, err := r.forDeck(ctx, st, d)
		if err != nil {
			return nil, err
		}
		out[d.ID] = conf
	}
	return out, nil
}
