// Package store defines the narrow persistence interface the scheduler
// consumes. Implementations live elsewhere (see internal/storage).
package store

import (
	"context"
	"errors"

	"github.com/conorfennell/knoldeck/internal/domain"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("not found")

// CardOrder sorts the result of a CardQuery.
type CardOrder int

const (
	ByID CardOrder = iota
	// ByDue sorts by due, then template ordinal, then id.
	ByDue
	ByIntervalAsc
	ByIntervalDesc
)

// CardQuery selects cards by deck membership and simple predicates. Zero
// values mean "no constraint".
type CardQuery struct {
	DeckIDs    []int64
	Queues     []domain.Queue
	NoteID     int64
	DueAtMost  *int64
	ExcludeIDs []int64
	Order      CardOrder
	Limit      int
	Offset     int
}

// DueAtMost is a helper for building queries.
func DueAtMost(v int64) *int64 {
	return &v
}

// CardSearch selects cards with a search expression, ordered for a
// filtered-deck term.
type CardSearch struct {
	Expr  string
	Order domain.FilterOrder
	// Limit <= 0 returns every match.
	Limit int
	// Today is the current day index and Now the current epoch second, needed
	// by due-relative terms and orders.
	Today int64
	Now   int64
}

// Store is the set of read/write operations the scheduler performs. Every
// write made through the Store passed to Transact's callback is committed or
// rolled back together.
type Store interface {
	Collection(ctx context.Context) (*domain.Collection, error)
	SaveCollection(ctx context.Context, col *domain.Collection) error

	Card(ctx context.Context, id int64) (*domain.Card, error)
	CardsByID(ctx context.Context, ids []int64) ([]*domain.Card, error)
	QueryCards(ctx context.Context, q CardQuery) ([]*domain.Card, error)
	CountCards(ctx context.Context, q CardQuery) (int, error)
	SearchCards(ctx context.Context, s CardSearch) ([]*domain.Card, error)
	UpdateCards(ctx context.Context, cards ...*domain.Card) error

	AddRevlog(ctx context.Context, entry *domain.RevlogEntry) error
	RemoveRevlog(ctx context.Context, ids ...int64) error

	Decks(ctx context.Context) ([]*domain.Deck, error)
	// SaveDeck inserts the deck when its ID is zero and assigns the new ID.
	SaveDeck(ctx context.Context, deck *domain.Deck) error

	DeckConfigs(ctx context.Context) ([]*domain.DeckConfig, error)
	DeckConfig(ctx context.Context, id int64) (*domain.DeckConfig, error)
	// SaveDeckConfig inserts the config when its ID is zero.
	SaveDeckConfig(ctx context.Context, conf *domain.DeckConfig) error
	RemoveDeckConfig(ctx context.Context, id int64) error

	Note(ctx context.Context, id int64) (*domain.Note, error)
	SaveNote(ctx context.Context, note *domain.Note) error

	Transact(ctx context.Context, fn func(Store) error) error
}
